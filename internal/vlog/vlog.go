// Package vlog wires the engine's structured logging. Every component
// obtains its logger via GetContextLoggerFunc(module), the same
// module-scoped-logger-constructor idiom as repo/logging.GetContextLoggerFunc,
// rebuilt here directly on top of zap's SugaredLogger.
package vlog

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

var (
	mu   sync.RWMutex
	base *zap.SugaredLogger
)

// contextKey is unexported to avoid collisions with other packages' context keys.
type contextKey struct{}

var fieldsKey = contextKey{}

// SetBase installs the process-wide base logger. Call once during startup;
// cmd/vaultup does this before constructing any other component.
func SetBase(l *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()

	base = l
}

func currentBase() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()

	if base == nil {
		l, _ := zap.NewProduction()
		return l.Sugar()
	}

	return base
}

// GetContextLoggerFunc returns a function that, given a context, returns a
// logger scoped to module and decorated with whatever fields WithFields
// attached to that context (run_id, root, worker, ...).
func GetContextLoggerFunc(module string) func(ctx context.Context) *zap.SugaredLogger {
	return func(ctx context.Context) *zap.SugaredLogger {
		l := currentBase().Named(module)

		if fields, ok := ctx.Value(fieldsKey).([]interface{}); ok {
			l = l.With(fields...)
		}

		return l
	}
}

// WithFields returns a derived context that every logger obtained via
// GetContextLoggerFunc will decorate its output with, e.g.
// ctx = vlog.WithFields(ctx, "run_id", id, "root", path).
func WithFields(ctx context.Context, kv ...interface{}) context.Context {
	existing, _ := ctx.Value(fieldsKey).([]interface{})
	merged := append(append([]interface{}{}, existing...), kv...)

	return context.WithValue(ctx, fieldsKey, merged)
}
