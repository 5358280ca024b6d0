package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ratecache/sampler"
)

// ErrUnknownMetric is returned by Export for keys no plugin registered.
var ErrUnknownMetric = errors.New("unknown metric")

// Metric is one exported key.
type Metric struct {
	Key        string
	Plugin     *Plugin
	Descriptor sampler.Descriptor
}

// Status reports the health of one plugin.
type Status struct {
	Name         string    `json:"name"`
	Prefix       string    `json:"prefix"`
	Mode         string    `json:"mode"`
	Polls        int64     `json:"polls"`
	Failures     int64     `json:"failures"`
	LastMetrics  int       `json:"last_metrics"`
	LastDuration string    `json:"last_duration"`
	LastSuccess  time.Time `json:"last_success"`
	LastError    string    `json:"last_error,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
	Metrics      []string  `json:"metrics"`
}

// Registry owns every plugin of the agent and resolves exported keys.
type Registry struct {
	log *zap.Logger

	mu      sync.RWMutex
	plugins map[string]*Plugin
	metrics map[string]Metric
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:     log,
		plugins: make(map[string]*Plugin),
		metrics: make(map[string]Metric),
	}
}

// Register adds p. Plugin names and metric keys must be unique across the
// registry; on conflict nothing is registered.
func (r *Registry) Register(p *Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plugins[p.Name]; ok {
		return fmt.Errorf("plugin %s: already registered", p.Name)
	}
	added := make(map[string]Metric, len(p.Metrics))
	for _, d := range p.Metrics {
		key := p.Key(d)
		_, dup := added[key]
		if _, ok := r.metrics[key]; ok || dup {
			return fmt.Errorf("plugin %s: metric %s already registered", p.Name, key)
		}
		added[key] = Metric{Key: key, Plugin: p, Descriptor: d}
	}

	r.plugins[p.Name] = p
	for k, m := range added {
		r.metrics[k] = m
	}
	r.log.Debug("plugin registered", zap.String("plugin", p.Name), zap.Int("metrics", len(added)))
	return nil
}

// Plugin returns the plugin registered under name.
func (r *Registry) Plugin(name string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Lookup returns the registration of key.
func (r *Registry) Lookup(key string) (Metric, error) {
	r.mu.RLock()
	m, ok := r.metrics[key]
	r.mu.RUnlock()
	if !ok {
		return Metric{}, fmt.Errorf("%s: %w", key, ErrUnknownMetric)
	}
	return m, nil
}

// Export returns the current value of key: a gauge reading or a counter
// rate/delta, as declared. It never fails for a registered key; unavailable
// data reads as 0.
func (r *Registry) Export(key string) (float64, error) {
	m, err := r.Lookup(key)
	if err != nil {
		return 0, err
	}
	return m.Plugin.Accessor.Read(m.Descriptor), nil
}

// Metrics lists every registered metric ordered by key.
func (r *Registry) Metrics() []Metric {
	r.mu.RLock()
	out := make([]Metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (r *Registry) sorted() []*Plugin {
	r.mu.RLock()
	out := make([]*Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start launches the background loop of every plugin in background mode.
// Lazy plugins poll on demand only.
func (r *Registry) Start(ctx context.Context) {
	for _, p := range r.sorted() {
		if p.Accessor.Mode() == sampler.Background {
			p.Sampler.Start(ctx)
		}
	}
}

// Stop shuts every sampler down concurrently, bounded by ctx.
func (r *Registry) Stop(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, p := range r.sorted() {
		g.Go(func() error {
			if err := p.Sampler.Shutdown(ctx); err != nil {
				r.log.Warn("plugin shutdown", zap.String("plugin", p.Name), zap.Error(err))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Status reports every plugin ordered by name.
func (r *Registry) Status() []Status {
	plugins := r.sorted()
	out := make([]Status, 0, len(plugins))
	for _, p := range plugins {
		st := p.Sampler.Stats()
		keys := make([]string, 0, len(p.Metrics))
		for _, d := range p.Metrics {
			keys = append(keys, p.Key(d))
		}
		sort.Strings(keys)
		out = append(out, Status{
			Name:         p.Name,
			Prefix:       p.Prefix,
			Mode:         p.Accessor.Mode().String(),
			Polls:        st.Polls,
			Failures:     st.Failures,
			LastMetrics:  st.LastMetrics,
			LastDuration: st.LastDuration.String(),
			LastSuccess:  st.LastSuccess,
			LastError:    st.LastError,
			CapturedAt:   p.Sampler.Store().CapturedAt(),
			Metrics:      keys,
		})
	}
	return out
}
