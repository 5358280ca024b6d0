package plugin

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ratecache/collector"
	"ratecache/config"
	"ratecache/logger"
	"ratecache/sampler"
)

// Plugin binds one polled backend to the metrics it exports.
type Plugin struct {
	Name     string
	Prefix   string
	Sampler  *sampler.Sampler
	Accessor *sampler.Accessor
	Metrics  []sampler.Descriptor
}

// Key is the exported key of d: prefix.name.
func (p *Plugin) Key(d sampler.Descriptor) string {
	return p.Prefix + "." + d.Name
}

// New builds the collector, sampler and accessor described by cfg.
// onSnapshot may be nil.
func New(cfg config.PluginConfig, log *zap.Logger, onSnapshot func(*sampler.Snapshot)) (*Plugin, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = logger.WithPlugin(log, cfg.Name)

	src, err := NewCollector(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", cfg.Name, err)
	}
	mode, err := sampler.ParseAccessMode(cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", cfg.Name, err)
	}
	metrics := make([]sampler.Descriptor, 0, len(cfg.Metrics))
	for _, m := range cfg.Metrics {
		d, err := m.Descriptor()
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", cfg.Name, err)
		}
		metrics = append(metrics, d)
	}

	s := sampler.New(cfg.Name, src, sampler.Options{
		MinInterval: cfg.MinInterval,
		Timeout:     cfg.Timeout,
		MaxBackoff:  cfg.MaxBackoff,
		Logger:      log,
		OnSnapshot:  onSnapshot,
	})
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = cfg.Name
	}
	return &Plugin{
		Name:     cfg.Name,
		Prefix:   prefix,
		Sampler:  s,
		Accessor: sampler.NewAccessor(s, mode),
		Metrics:  metrics,
	}, nil
}

// NewCollector builds the collector for cfg.Type.
func NewCollector(cfg config.PluginConfig, log *zap.Logger) (collector.Collector, error) {
	switch cfg.Type {
	case "json":
		c := collector.NewJSONCollector(cfg.URL, log)
		c.Username, c.Password, c.Timeout = cfg.Username, cfg.Password, cfg.Timeout
		return c, nil
	case "status":
		parser, err := collector.ParserByName(cfg.Parser)
		if err != nil {
			return nil, err
		}
		c := collector.NewStatusCollector(cfg.URL, parser, log)
		c.Username, c.Password, c.Timeout = cfg.Username, cfg.Password, cfg.Timeout
		return c, nil
	case "prometheus":
		c := collector.NewPrometheusCollector(cfg.URL, cfg.Queries, log)
		c.Username, c.Password, c.Timeout = cfg.Username, cfg.Password, cfg.Timeout
		return c, nil
	case "exec":
		parser, err := collector.ParserByName(cfg.Parser)
		if err != nil {
			return nil, err
		}
		return collector.NewExecCollector(cfg.Command, cfg.Args, parser, log), nil
	case "ssh", "sftp":
		parser, err := collector.ParserByName(cfg.Parser)
		if err != nil {
			return nil, err
		}
		opts := collector.SSHOptions{
			Addr:           cfg.Addr,
			User:           cfg.User,
			KeyPath:        cfg.KeyPath,
			Password:       cfg.Password,
			KnownHostsPath: cfg.KnownHosts,
			Timeout:        cfg.Timeout,
			Log:            log,
		}
		if cfg.Type == "sftp" {
			return collector.NewSFTPCollector(opts, cfg.Path, parser), nil
		}
		command := strings.TrimSpace(cfg.Command + " " + strings.Join(cfg.Args, " "))
		return collector.NewSSHCollector(opts, command, parser), nil
	case "memcached":
		c := collector.NewMemcachedCollector(cfg.Addr, log)
		if cfg.Timeout > 0 {
			c.DialTimeout = cfg.Timeout
		}
		return c, nil
	case "multi":
		m := &collector.Multi{Workers: cfg.Workers, Log: log}
		for i, src := range cfg.Sources {
			if src.Timeout == 0 {
				src.Timeout = cfg.Timeout
			}
			c, err := NewCollector(src, log)
			if err != nil {
				return nil, fmt.Errorf("sources[%d]: %w", i, err)
			}
			m.Collectors = append(m.Collectors, c)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown collector type %q", cfg.Type)
	}
}
