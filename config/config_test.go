package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ratecache/sampler"
)

const sample = `
log_level: debug
listen: ":9200"
plugins:
  - name: nginx
    type: status
    parser: nginx
    url: http://localhost/nginx_status
    min_interval: 15s
    metrics:
      - name: requests
        kind: counter
        width: 32
        unit: req/s
      - name: active
  - name: memcached
    type: memcached
    addr: 127.0.0.1:11211
    mode: lazy
    max_backoff: 1m
    metrics:
      - name: hits
        source: get_hits
        kind: counter
        mode: delta
`

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, ":9200", cfg.Listen)
	require.Len(t, cfg.Plugins, 2)

	nginx := cfg.Plugins[0]
	require.Equal(t, "nginx", nginx.Prefix)
	require.Equal(t, "background", nginx.Mode)
	require.Equal(t, 15*time.Second, nginx.MinInterval)
	require.Equal(t, sampler.DefaultTimeout, nginx.Timeout)

	d, err := nginx.Metrics[0].Descriptor()
	require.NoError(t, err)
	require.Equal(t, sampler.Counter, d.Kind)
	require.Equal(t, sampler.Width32, d.Width)
	require.Equal(t, "requests", d.SourceKey())

	mc := cfg.Plugins[1]
	require.Equal(t, "lazy", mc.Mode)
	require.Equal(t, time.Minute, mc.MaxBackoff)
	require.Equal(t, sampler.DefaultMinInterval, mc.MinInterval)
	d, err = mc.Metrics[0].Descriptor()
	require.NoError(t, err)
	require.Equal(t, sampler.Delta, d.Mode)
	require.Equal(t, "get_hits", d.SourceKey())
}

func TestLoadMulti(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
plugins:
  - name: host
    type: multi
    workers: 2
    sources:
      - type: exec
        command: uptime
      - type: sftp
        addr: db1:22
        user: monitor
        path: /proc/diskstats
        parser: diskstats
`))
	require.NoError(t, err)
	require.Len(t, cfg.Plugins[0].Sources, 2)
	require.Equal(t, "sftp", cfg.Plugins[0].Sources[1].Type)
	require.Equal(t, "/proc/diskstats", cfg.Plugins[0].Sources[1].Path)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RATECACHE_LOG_LEVEL", "warn")
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown type":   "plugins:\n  - name: x\n    type: snmp\n",
		"empty name":     "plugins:\n  - type: json\n",
		"duplicate":      "plugins:\n  - name: x\n    type: json\n  - name: x\n    type: exec\n",
		"bad kind":       "plugins:\n  - name: x\n    type: json\n    metrics:\n      - name: m\n        kind: histogram\n",
		"bad width":      "plugins:\n  - name: x\n    type: json\n    metrics:\n      - name: m\n        width: 16\n",
		"bad mode":       "plugins:\n  - name: x\n    type: json\n    mode: eager\n",
		"empty multi":    "plugins:\n  - name: x\n    type: multi\n",
		"nested multi":   "plugins:\n  - name: x\n    type: multi\n    sources:\n      - type: multi\n",
		"no queries":     "plugins:\n  - name: x\n    type: prometheus\n    url: http://prom\n",
		"unnamed metric": "plugins:\n  - name: x\n    type: json\n    metrics:\n      - kind: gauge\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
