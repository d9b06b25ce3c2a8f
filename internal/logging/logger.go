// Package logging wraps zap so the CLI builds one configured sink and
// hands its *zap.Logger to the packages that log (internal/wc,
// internal/admlock) instead of each constructing its own.
package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.Logger
}

func NewLogger(level string) (*Logger, error) {
	config := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{logger}, nil
}

// NewNop returns a Logger that discards everything, for tests that don't
// care about log output.
func NewNop() *Logger {
	return &Logger{zap.NewNop()}
}

type editIDKey struct{}

// WithEditID attaches id to ctx so a later WithEditID call can correlate
// log lines with the driving edit.
func WithEditID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, editIDKey{}, id)
}

// EditID returns the edit ID attached to ctx, or "" if none.
func EditID(ctx context.Context) string {
	id, _ := ctx.Value(editIDKey{}).(string)
	return id
}

// WithEditID returns a child logger tagged with the edit ID carried on ctx,
// if any.
func (l *Logger) WithEditID(ctx context.Context) *zap.Logger {
	if id := EditID(ctx); id != "" {
		return l.With(zap.String("edit_id", id))
	}
	return l.Logger
}
