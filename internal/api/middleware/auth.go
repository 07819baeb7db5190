// Package middleware provides the HTTP middleware chain for the API:
// authentication, rate limiting, CORS, and request observation.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mealex/peerdir/internal/auth"
	pkgerrors "github.com/mealex/peerdir/pkg/errors"
	"github.com/mealex/peerdir/pkg/logger"
)

type contextKey string

const principalKey contextKey = "principal"

// Auth returns middleware that resolves the bearer token into a principal id
// and stores it in the request context. Health endpoints are exempt.
func Auth(tokens *auth.TokenCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}

			token := BearerToken(r)
			if token == "" {
				WriteError(w, http.StatusUnauthorized, "missing or invalid token")
				return
			}

			principal, err := tokens.Resolve(r.Context(), token)
			if err != nil {
				switch {
				case errors.Is(err, pkgerrors.ErrInvalidToken):
					WriteError(w, http.StatusUnauthorized, "invalid token")
				case errors.Is(err, pkgerrors.ErrUpstreamUnavailable):
					logger.FromContext(r.Context()).Error("auth provider unavailable", "error", err)
					WriteError(w, http.StatusServiceUnavailable, "authentication unavailable")
				default:
					logger.FromContext(r.Context()).Error("authentication error", "error", err)
					WriteError(w, http.StatusInternalServerError, "authentication error")
				}
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal returns the verified principal id from the request context.
func GetPrincipal(ctx context.Context) string {
	principal, _ := ctx.Value(principalKey).(string)
	return principal
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// WriteError writes the uniform JSON error envelope.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
