package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ratecache/config"
)

const testConfig = `
listen: "127.0.0.1:0"
plugins:
  - name: ticker
    type: exec
    command: sh
    args: ["-c", "date +'seconds %s'; echo 'depth 5'"]
    metrics:
      - name: seconds
        kind: counter
      - name: depth
`

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Equal(t, version+"\n", out)
}

func TestCheckCommand(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, err := execute(t, "check", "--config", path, "--plugin", "ticker", "--wait", "20ms")
	require.NoError(t, err)
	require.Contains(t, out, "ticker.depth")
	require.Contains(t, out, "counter/rate")
	require.Contains(t, out, "depth")

	_, err = execute(t, "check", "--config", path, "--plugin", "missing")
	require.ErrorContains(t, err, "not found")

	_, err = execute(t, "check", "--config", path)
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, testConfig))
	require.NoError(t, err)
	cfg.DBPath = filepath.Join(t.TempDir(), "history.db")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zap.NewNop()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
