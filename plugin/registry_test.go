package plugin

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"ratecache/collector"
	"ratecache/config"
	"ratecache/sampler"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingSource reports requests growing by 30 per poll and a constant gauge.
func countingSource(polls *atomic.Int64) collector.Func {
	return func(context.Context) (map[string]float64, error) {
		n := polls.Add(1)
		return map[string]float64{"requests": float64(70 + 30*n), "active": 4}, nil
	}
}

func lazyPlugin(name string, clock sampler.Clock, src sampler.Source, metrics ...sampler.Descriptor) *Plugin {
	s := sampler.New(name, src, sampler.Options{MinInterval: 5 * time.Second, Clock: clock})
	return &Plugin{
		Name:     name,
		Prefix:   name,
		Sampler:  s,
		Accessor: sampler.NewAccessor(s, sampler.Lazy),
		Metrics:  metrics,
	}
}

func TestRegistryExport(t *testing.T) {
	clock := newFakeClock()
	var polls atomic.Int64
	r := NewRegistry(nil)
	require.NoError(t, r.Register(lazyPlugin("web", clock, countingSource(&polls),
		sampler.Descriptor{Name: "requests", Kind: sampler.Counter},
		sampler.Descriptor{Name: "active"},
		sampler.Descriptor{Name: "active_pct", Source: "active", Scale: 25},
	)))

	_, err := r.Export("web.missing")
	require.ErrorIs(t, err, ErrUnknownMetric)

	v, err := r.Export("web.requests")
	require.NoError(t, err)
	require.Zero(t, v) // cold start

	v, err = r.Export("web.active")
	require.NoError(t, err)
	require.Equal(t, 4.0, v)
	v, err = r.Export("web.active_pct")
	require.NoError(t, err)
	require.Equal(t, 100.0, v)
	require.EqualValues(t, 1, polls.Load())

	clock.Advance(10 * time.Second)
	v, err = r.Export("web.requests")
	require.NoError(t, err)
	require.Equal(t, 3.0, v)
	require.EqualValues(t, 2, polls.Load())

	st := r.Status()
	require.Len(t, st, 1)
	require.Equal(t, "lazy", st[0].Mode)
	require.EqualValues(t, 2, st[0].Polls)
	require.Equal(t, []string{"web.active", "web.active_pct", "web.requests"}, st[0].Metrics)
	require.True(t, st[0].CapturedAt.Equal(clock.Now()))

	keys := []string{}
	for _, m := range r.Metrics() {
		keys = append(keys, m.Key)
	}
	require.Equal(t, []string{"web.active", "web.active_pct", "web.requests"}, keys)

	require.NoError(t, r.Stop(context.Background()))
	// reads after shutdown serve the last pair
	v, err = r.Export("web.active")
	require.NoError(t, err)
	require.Equal(t, 4.0, v)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	clock := newFakeClock()
	var polls atomic.Int64
	r := NewRegistry(nil)
	require.NoError(t, r.Register(lazyPlugin("db", clock, countingSource(&polls), sampler.Descriptor{Name: "active"})))

	require.ErrorContains(t, r.Register(lazyPlugin("db", clock, countingSource(&polls))), "already registered")

	dupKey := lazyPlugin("db2", clock, countingSource(&polls), sampler.Descriptor{Name: "active"})
	dupKey.Prefix = "db"
	require.ErrorContains(t, r.Register(dupKey), "metric db.active already registered")
	_, ok := r.Plugin("db2")
	require.False(t, ok)

	twice := lazyPlugin("db3", clock, countingSource(&polls), sampler.Descriptor{Name: "x"}, sampler.Descriptor{Name: "x"})
	require.Error(t, r.Register(twice))
	_, ok = r.Plugin("db3")
	require.False(t, ok)
}

func TestRegistryStartStop(t *testing.T) {
	var polls atomic.Int64
	s := sampler.New("bg", countingSource(&polls), sampler.Options{MinInterval: 10 * time.Millisecond})
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&Plugin{
		Name:     "bg",
		Prefix:   "bg",
		Sampler:  s,
		Accessor: sampler.NewAccessor(s, sampler.Background),
		Metrics:  []sampler.Descriptor{{Name: "active"}},
	}))

	r.Start(context.Background())
	require.Eventually(t, func() bool { return polls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	v, err := r.Export("bg.active")
	require.NoError(t, err)
	require.Equal(t, 4.0, v)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	after := polls.Load()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, after, polls.Load())
}

func TestNewFromConfig(t *testing.T) {
	var got []*sampler.Snapshot
	core, logs := observer.New(zapcore.DebugLevel)
	p, err := New(config.PluginConfig{
		Name:    "queue",
		Type:    "exec",
		Mode:    "lazy",
		Command: "sh",
		Args:    []string{"-c", "echo depth 7"},
		Metrics: []config.MetricConfig{{Name: "depth"}},
	}, zap.New(core), func(s *sampler.Snapshot) { got = append(got, s) })
	require.NoError(t, err)
	require.Equal(t, "queue", p.Prefix)

	r := NewRegistry(nil)
	require.NoError(t, r.Register(p))
	v, err := r.Export("queue.depth")
	require.NoError(t, err)
	require.Equal(t, 7.0, v)
	require.Len(t, got, 1)
	require.NoError(t, r.Stop(context.Background()))

	accepted := logs.FilterMessage("snapshot accepted").All()
	require.Len(t, accepted, 1)
	require.Equal(t, "queue", accepted[0].ContextMap()["plugin"])
}

func TestNewCollector(t *testing.T) {
	c, err := NewCollector(config.PluginConfig{
		Type:    "multi",
		Workers: 2,
		Timeout: time.Second,
		Sources: []config.PluginConfig{
			{Type: "memcached", Addr: "127.0.0.1:11211"},
			{Type: "sftp", Addr: "db:22", Path: "/proc/diskstats", Parser: "diskstats"},
			{Type: "json", URL: "http://localhost/stats"},
		},
	}, nil)
	require.NoError(t, err)
	m, ok := c.(*collector.Multi)
	require.True(t, ok)
	require.Len(t, m.Collectors, 3)
	require.Equal(t, time.Second, m.Collectors[0].(*collector.MemcachedCollector).DialTimeout)

	_, err = NewCollector(config.PluginConfig{Type: "status", Parser: "xml"}, nil)
	require.Error(t, err)
	_, err = NewCollector(config.PluginConfig{Type: "snmp"}, nil)
	require.Error(t, err)
}
