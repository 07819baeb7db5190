package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Timeout bounds each request. Handlers receive a context that expires at
// the deadline; if one overruns without having written anything, the client
// gets a 504 and whatever the handler writes afterwards is discarded.
func Timeout(limit time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), limit)
			defer cancel()

			dw := &deadlineWriter{ResponseWriter: w}
			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(dw, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if dw.owner.CompareAndSwap(0, ownerTimeout) {
					slog.Warn("request exceeded deadline",
						"method", r.Method, "path", r.URL.Path, "limit", limit)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusGatewayTimeout)
					w.Write([]byte(`{"error":"request timeout"}`))
				}
			}
		})
	}
}

const (
	ownerHandler int32 = 1
	ownerTimeout int32 = 2
)

// deadlineWriter gives the response to whichever side writes first: the
// handler if it finishes in time, the timeout branch otherwise. The loser's
// writes are swallowed.
type deadlineWriter struct {
	http.ResponseWriter
	owner atomic.Int32
}

func (d *deadlineWriter) handlerOwns() bool {
	return d.owner.CompareAndSwap(0, ownerHandler) || d.owner.Load() == ownerHandler
}

func (d *deadlineWriter) WriteHeader(code int) {
	if d.handlerOwns() {
		d.ResponseWriter.WriteHeader(code)
	}
}

func (d *deadlineWriter) Write(b []byte) (int, error) {
	if !d.handlerOwns() {
		return len(b), nil
	}
	return d.ResponseWriter.Write(b)
}
