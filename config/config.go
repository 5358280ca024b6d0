package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ratecache/sampler"
)

// Config holds every configurable value of the agent.
type Config struct {
	LogLevel string `mapstructure:"log_level"` // debug|info|warn|error

	// Server
	Listen string `mapstructure:"listen"` // status and /metrics endpoint, empty disables it

	// Persistence of accepted snapshots, empty disables history
	DBPath string `mapstructure:"db_path"`

	Plugins []PluginConfig `mapstructure:"plugins"`
}

// PluginConfig describes one polled backend. Which connection fields apply
// depends on Type.
type PluginConfig struct {
	Name   string `mapstructure:"name"`
	Prefix string `mapstructure:"prefix"` // defaults to Name
	Type   string `mapstructure:"type"`   // json|status|prometheus|exec|ssh|sftp|memcached|multi
	Mode   string `mapstructure:"mode"`   // background|lazy

	MinInterval time.Duration `mapstructure:"min_interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`

	// HTTP based types
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// output format for status, exec, ssh and sftp
	Parser string `mapstructure:"parser"`

	// exec and ssh
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`

	// ssh, sftp and memcached
	Addr       string `mapstructure:"addr"`
	User       string `mapstructure:"user"`
	KeyPath    string `mapstructure:"key_path"`
	KnownHosts string `mapstructure:"known_hosts"`
	Path       string `mapstructure:"path"`

	// prometheus: metric name -> PromQL
	Queries map[string]string `mapstructure:"queries"`

	// multi: polled concurrently and merged into one snapshot
	Sources []PluginConfig `mapstructure:"sources"`
	Workers int            `mapstructure:"workers"`

	Metrics []MetricConfig `mapstructure:"metrics"`
}

// MetricConfig is the config form of sampler.Descriptor.
type MetricConfig struct {
	Name        string  `mapstructure:"name"`
	Source      string  `mapstructure:"source"`
	Kind        string  `mapstructure:"kind"` // gauge|counter
	Mode        string  `mapstructure:"mode"` // rate|delta
	Width       int     `mapstructure:"width"`
	Unit        string  `mapstructure:"unit"`
	Format      string  `mapstructure:"format"`
	Group       string  `mapstructure:"group"`
	Scale       float64 `mapstructure:"scale"`
	Description string  `mapstructure:"description"`
}

var collectorTypes = map[string]bool{
	"json":       true,
	"status":     true,
	"prometheus": true,
	"exec":       true,
	"ssh":        true,
	"sftp":       true,
	"memcached":  true,
	"multi":      true,
}

// Load reads configuration from (in decreasing priority):
//  1. environment variables (e.g. RATECACHE_LOG_LEVEL)
//  2. the yaml file at path, or ./configs/config.yaml when path is empty
//     and that file exists
//
// It returns a fully populated and validated *Config.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("listen", ":9107")
	v.SetDefault("db_path", "")

	v.SetEnvPrefix("ratecache")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		_ = v.ReadInConfig() // ignore error - file is optional
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Plugins {
		p := &c.Plugins[i]
		if p.Prefix == "" {
			p.Prefix = p.Name
		}
		if p.Mode == "" {
			p.Mode = "background"
		}
		if p.MinInterval == 0 {
			p.MinInterval = sampler.DefaultMinInterval
		}
		if p.Timeout == 0 {
			p.Timeout = sampler.DefaultTimeout
		}
	}
}

// Validate checks plugin names, types and metric declarations.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Plugins))
	for i, p := range c.Plugins {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("plugins[%d]: name must not be empty", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("plugin %s: duplicate name", p.Name)
		}
		seen[p.Name] = true
		if err := p.validateSource(); err != nil {
			return fmt.Errorf("plugin %s: %w", p.Name, err)
		}
		if _, err := sampler.ParseAccessMode(p.Mode); err != nil {
			return fmt.Errorf("plugin %s: %w", p.Name, err)
		}
		if p.Timeout < 0 || p.MaxBackoff < 0 {
			return fmt.Errorf("plugin %s: durations must not be negative", p.Name)
		}
		for _, m := range p.Metrics {
			if _, err := m.Descriptor(); err != nil {
				return fmt.Errorf("plugin %s: %w", p.Name, err)
			}
		}
	}
	return nil
}

func (p PluginConfig) validateSource() error {
	if !collectorTypes[p.Type] {
		return fmt.Errorf("unknown type %q", p.Type)
	}
	if p.Type == "multi" {
		if len(p.Sources) == 0 {
			return fmt.Errorf("multi needs at least one source")
		}
		for i, src := range p.Sources {
			if src.Type == "multi" {
				return fmt.Errorf("sources[%d]: multi cannot be nested", i)
			}
			if err := src.validateSource(); err != nil {
				return fmt.Errorf("sources[%d]: %w", i, err)
			}
		}
	}
	if p.Type == "prometheus" && len(p.Queries) == 0 {
		return fmt.Errorf("prometheus needs at least one query")
	}
	return nil
}

// Descriptor converts the declaration into a sampler.Descriptor.
func (m MetricConfig) Descriptor() (sampler.Descriptor, error) {
	if strings.TrimSpace(m.Name) == "" {
		return sampler.Descriptor{}, fmt.Errorf("metric name must not be empty")
	}
	kind, err := sampler.ParseKind(m.Kind)
	if err != nil {
		return sampler.Descriptor{}, fmt.Errorf("metric %s: %w", m.Name, err)
	}
	mode, err := sampler.ParseMode(m.Mode)
	if err != nil {
		return sampler.Descriptor{}, fmt.Errorf("metric %s: %w", m.Name, err)
	}
	width, err := sampler.ParseWidth(m.Width)
	if err != nil {
		return sampler.Descriptor{}, fmt.Errorf("metric %s: %w", m.Name, err)
	}
	return sampler.Descriptor{
		Name:        m.Name,
		Source:      m.Source,
		Kind:        kind,
		Mode:        mode,
		Width:       width,
		Unit:        m.Unit,
		Format:      m.Format,
		Group:       m.Group,
		Scale:       m.Scale,
		Description: m.Description,
	}, nil
}
