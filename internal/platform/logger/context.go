package logger

import (
	"context"
	"log/slog"
)

// contextKey is an unexported type to avoid collisions with context keys
// defined in other packages.
type contextKey struct{}

var loggerKey contextKey

// WithLogger returns a copy of ctx carrying the given logger. Handlers and
// services retrieve it with FromContextOrDefault so request-scoped
// attributes (trace IDs and the like) follow the call chain.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger stored in ctx, or nil when none is set.
func FromContext(ctx context.Context) *slog.Logger {
	logger, _ := ctx.Value(loggerKey).(*slog.Logger)
	return logger
}

// FromContextOrDefault retrieves the logger stored in ctx, falling back to
// the provided default when the context carries none.
func FromContextOrDefault(ctx context.Context, def *slog.Logger) *slog.Logger {
	if logger := FromContext(ctx); logger != nil {
		return logger
	}
	if def != nil {
		return def
	}
	return slog.Default()
}
