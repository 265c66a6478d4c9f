// Package ctxlog carries a *slog.Logger through context.Context so engine
// internals log with the owning App's logger rather than the process
// default.
package ctxlog

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// WithLogger embeds logger into ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger embedded in ctx. Contexts without one get
// slog.Default, so callers never nil-check before logging.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
