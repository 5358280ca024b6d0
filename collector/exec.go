package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const maxExecuteOutputLenB = 512 * 1024

// ExecCollector runs a local command and parses its standard output, the way
// varnishstat, passenger-status or a site-specific script is polled.
type ExecCollector struct {
	Command string
	Args    []string
	Parser  Parser // nil -> ParseKeyValues
	Log     *zap.Logger
}

func NewExecCollector(command string, args []string, parser Parser, log *zap.Logger) *ExecCollector {
	return &ExecCollector{Command: command, Args: args, Parser: parser, Log: log}
}

func (e *ExecCollector) Collect(ctx context.Context) (map[string]float64, error) {
	cmd := exec.CommandContext(ctx, e.Command, e.Args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// kill the whole process group when the context expires so shell
	// pipelines do not outlive the poll
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("timeout while executing %s: %w", e.Command, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s exited with %d: %s", e.Command, exitErr.ExitCode(), firstLine(stderr.String()))
		}
		return nil, fmt.Errorf("cannot execute command: %w", err)
	}
	if stdout.Len() >= maxExecuteOutputLenB {
		return nil, fmt.Errorf("command output exceeded limit of %d KB", maxExecuteOutputLenB/1024)
	}

	parse := e.Parser
	if parse == nil {
		parse = ParseKeyValues
	}
	metrics, err := parse(&stdout)
	if len(metrics) == 0 {
		if err == nil {
			err = errors.New("no metrics in output")
		}
		return nil, fmt.Errorf("parse output of %s: %w", e.Command, err)
	}
	if err != nil && e.Log != nil {
		e.Log.Debug("partial command output", zap.String("command", e.Command), zap.Error(err))
	}
	return metrics, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
