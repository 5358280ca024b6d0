package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecCollector(t *testing.T) {
	c := NewExecCollector("sh", []string{"-c", `printf 'queue_depth 12\nprocessed: 3400\nnoise\n'`}, nil, nil)
	got, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"queue_depth": 12, "processed": 3400}, got)
}

func TestExecCollectorFailures(t *testing.T) {
	_, err := NewExecCollector("sh", []string{"-c", "echo broken >&2; exit 3"}, nil, nil).Collect(context.Background())
	require.ErrorContains(t, err, "exited with 3: broken")

	_, err = NewExecCollector("sh", []string{"-c", "echo nothing numeric"}, nil, nil).Collect(context.Background())
	require.ErrorContains(t, err, "no metrics")

	_, err = NewExecCollector(filepath.Join(t.TempDir(), "missing"), nil, nil, nil).Collect(context.Background())
	require.ErrorContains(t, err, "cannot execute command")
}

func TestExecCollectorTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewExecCollector("sh", []string{"-c", "sleep 5 | cat"}, nil, nil).Collect(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 3*time.Second)
}

func TestSSHOptionsRequireCredentials(t *testing.T) {
	_, err := SSHOptions{Addr: "127.0.0.1:22", User: "monitor"}.clientConfig()
	require.ErrorContains(t, err, "no key or password")

	_, err = SSHOptions{Addr: "127.0.0.1:22", KeyPath: filepath.Join(t.TempDir(), "id_rsa")}.clientConfig()
	require.ErrorContains(t, err, "read private key")

	bad := filepath.Join(t.TempDir(), "id_rsa")
	require.NoError(t, os.WriteFile(bad, []byte("not a key"), 0o600))
	_, err = SSHOptions{KeyPath: bad}.clientConfig()
	require.ErrorContains(t, err, "parse private key")

	conf, err := SSHOptions{User: "monitor", Password: "secret", Timeout: time.Second}.clientConfig()
	require.NoError(t, err)
	require.Equal(t, "monitor", conf.User)
	require.Equal(t, time.Second, conf.Timeout)
}

func TestSSHCollectorUnreachable(t *testing.T) {
	c := NewSSHCollector(SSHOptions{Addr: "127.0.0.1:1", User: "monitor", Password: "x"}, "uptime", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.Collect(ctx)
	require.Error(t, err)
	require.NoError(t, c.Close())

	f := NewSFTPCollector(SSHOptions{Addr: "127.0.0.1:1", User: "monitor", Password: "x"}, "/proc/diskstats", ParseDiskstats)
	require.NoError(t, f.Close())
	_, err = f.Collect(ctx)
	require.Error(t, err)
}
