package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/mealex/peerdir/internal/metrics"
)

// Observe returns middleware feeding the app metrics collector: every
// request is counted on entry and its duration folded into the running
// average on exit. Health probes are not counted.
func Observe(collector *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}
			collector.OnRequestStart()
			start := time.Now()
			next.ServeHTTP(w, r)
			collector.OnRequestFinish(time.Since(start))
		})
	}
}
