// Package logging provides the zap-backed structured logger used
// across the conversion engine.
package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type runIDKey struct{}

// Logger wraps *zap.Logger with run-id propagation.
type Logger struct {
	*zap.Logger
}

// New builds a Logger at the given level ("debug", "info", "warn",
// "error"). dev selects the human-readable development encoder.
func New(level string, dev bool) (*Logger, error) {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{logger}, nil
}

// WithRunID attaches runID to ctx so later calls to FromContext carry it.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// FromContext returns l with a "run_id" field if ctx carries one.
func (l *Logger) FromContext(ctx context.Context) *zap.Logger {
	if runID, ok := ctx.Value(runIDKey{}).(string); ok {
		return l.With(zap.String("run_id", runID))
	}
	return l.Logger
}
