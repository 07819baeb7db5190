package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mealex/peerdir/internal/cache"
	pkgerrors "github.com/mealex/peerdir/pkg/errors"
	"github.com/mealex/peerdir/pkg/logger"
)

// VerifyObserver counts verification outcomes; pkg/metrics feeds Prometheus
// through it.
type VerifyObserver interface {
	ObserveVerification(outcome string)
}

// TokenCache caches verified-token → principal mappings in the cache layer.
// Only successful verifications are ever cached: a cached failure would mask
// timely revocation, while a cached success merely skips re-verifying a
// token that was valid moments ago. The cache TTL must stay shorter than
// the provider's token validity window.
type TokenCache struct {
	provider Provider
	layer    *cache.Layer
	observer VerifyObserver
	logger   *slog.Logger
}

// NewTokenCache creates a TokenCache. observer may be nil.
func NewTokenCache(provider Provider, layer *cache.Layer, observer VerifyObserver) *TokenCache {
	return &TokenCache{
		provider: provider,
		layer:    layer,
		observer: observer,
		logger:   logger.WithComponent("token-cache"),
	}
}

// Resolve returns the principal id for a bearer token. Cache hits skip the
// provider entirely; misses verify, cache on success, and propagate failures
// uncached. The cache key is a hash of the token, never the raw credential.
func (t *TokenCache) Resolve(ctx context.Context, token string) (string, error) {
	key := cache.AuthTokenKey(token)

	var principal string
	if t.layer.Get(ctx, key, &principal) && principal != "" {
		t.observe("cached")
		return principal, nil
	}

	principal, err := t.provider.VerifyToken(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrInvalidToken):
			t.observe("invalid")
		default:
			t.observe("error")
		}
		return "", err
	}

	t.layer.Set(ctx, key, principal, cache.ClassAuthToken)
	t.observe("verified")
	return principal, nil
}

func (t *TokenCache) observe(outcome string) {
	if t.observer != nil {
		t.observer.ObserveVerification(outcome)
	}
}
