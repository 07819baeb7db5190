// Package logger configures the process-wide slog handler and hands out
// loggers enriched with request and component context. Every component in
// the directory service logs through loggers built here so that cache,
// index, and request logs carry the same fields.
package logger

import (
	"context"
	"log/slog"
	"os"
)

type requestIDKey struct{}

// Setup installs the default slog handler. Format "json" is what the
// deployed service uses; anything else falls back to text for local runs.
func Setup(level, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// WithRequestID stores the request id for FromContext to pick up.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// FromContext returns a logger carrying the request id, if the context has
// one.
func FromContext(ctx context.Context) *slog.Logger {
	log := slog.Default()
	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok {
		log = log.With("request_id", requestID)
	}
	return log
}

// WithComponent returns a logger tagged with the component name. Long-lived
// components (repositories, the index builder, the cache layer) grab one at
// construction time.
func WithComponent(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
