package middleware

import (
	"crypto/sha256"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/mealex/peerdir/internal/ratelimit"
)

// RejectionCounter counts rate-limited requests; pkg/metrics satisfies it.
type RejectionCounter interface {
	ObserveRateLimitRejection()
}

// RateLimit returns middleware that enforces per-identity admission before
// any other work: rejected requests never reach authentication, the cache,
// or the index. Identity is the hashed bearer token when present, else the
// client IP, so limiting does not itself require token verification.
// Health endpoints are exempt.
func RateLimit(limiter *ratelimit.Limiter, rejections RejectionCounter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Admit(clientIdentity(r)) {
				if rejections != nil {
					rejections.ObserveRateLimitRejection()
				}
				w.Header().Set("Retry-After", "60")
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIdentity(r *http.Request) string {
	if token := BearerToken(r); token != "" {
		return fmt.Sprintf("tok:%x", sha256.Sum256([]byte(token)))
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
