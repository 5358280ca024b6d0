package logger

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger holds both the raw zap.Logger and its sugared counterpart.
type Logger struct {
	*zap.Logger
	*zap.SugaredLogger
}

// New creates a JSON logger on stdout for the given level.
// Accepted levels (case-insensitive): "debug", "info", "warn", "error".
func New(level string) (*Logger, error) {
	return NewWriter(level, os.Stdout)
}

// NewWriter is New with an explicit destination.
func NewWriter(level string, w io.Writer) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	// JSON, ISO-8601 timestamps, capital level
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		zapLevel,
	)

	zapLogger := zap.New(core, zap.AddCaller())
	return &Logger{
		Logger:        zapLogger,
		SugaredLogger: zapLogger.Sugar(),
	}, nil
}

// FromContext extracts a *zap.Logger that may have been stored in the context.
// If none is present, the fallback logger is returned.
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback == nil {
		return zap.NewNop()
	}
	return fallback
}

// WithContext returns a new context that carries the supplied logger.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

type loggerKey struct{}

// WithPlugin returns a copy of the logger tagged with the plugin name.
func WithPlugin(l *zap.Logger, plugin string) *zap.Logger {
	return l.With(zap.String("plugin", plugin))
}

// Flush forces any buffered log entries to be written.
// Call this from main just before the program exits.
func Flush(l *zap.Logger) {
	// Sync on a terminal stdout returns "invalid argument", which is harmless.
	_ = l.Sync()
}
