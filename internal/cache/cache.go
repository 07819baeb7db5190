// Package cache implements the read-through/write-invalidate cache layer.
// Entries live in Redis under named TTL classes; the cache is purely an
// optimization and every failure degrades to the uncached path.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mealex/peerdir/pkg/config"
	"github.com/mealex/peerdir/pkg/logger"
	"github.com/mealex/peerdir/pkg/resilience"
)

// Class names the staleness tolerance of a cache entry. Each class maps to a
// configured TTL; keys never encode their own lifetime.
type Class string

const (
	ClassProfile     Class = "profile"
	ClassProfileList Class = "profile-list"
	ClassSearch      Class = "search"
	ClassInvitation  Class = "invitation"
	ClassAuthToken   Class = "auth-token"
)

// Store is the key-value backend (Redis in production, fakes in tests).
// Expiry is enforced entirely by the store; the layer never re-checks TTLs.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	DeleteMany(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
}

// Observer receives hit/miss notifications, typically the app metrics
// collector.
type Observer interface {
	CacheHit()
	CacheMiss()
}

// Layer wraps a Store with TTL classes, silent degradation, and
// singleflight read-through.
type Layer struct {
	store    Store
	ttls     config.CacheTTLs
	breaker  *resilience.CircuitBreaker
	group    singleflight.Group
	observer Observer
	logger   *slog.Logger
	hits     atomic.Int64
	misses   atomic.Int64
}

// New creates a Layer over the given store. observer may be nil.
func New(store Store, ttls config.CacheTTLs, observer Observer) *Layer {
	return &Layer{
		store:    store,
		ttls:     ttls,
		observer: observer,
		breaker: resilience.NewCircuitBreaker("cache-store", resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     10 * time.Second,
		}),
		logger: logger.WithComponent("cache-layer"),
	}
}

// TTL returns the configured duration for a class.
func (l *Layer) TTL(class Class) time.Duration {
	switch class {
	case ClassProfile:
		return l.ttls.Profile
	case ClassProfileList:
		return l.ttls.ProfileList
	case ClassSearch:
		return l.ttls.Search
	case ClassInvitation:
		return l.ttls.Invitation
	case ClassAuthToken:
		return l.ttls.AuthToken
	default:
		return time.Minute
	}
}

// Get loads the entry under key into dest. It returns false on a miss, and
// on any store failure: an unreachable cache must look exactly like a cold
// one.
func (l *Layer) Get(ctx context.Context, key string, dest any) bool {
	found := l.lookup(ctx, key, dest)
	if found {
		l.hits.Add(1)
		if l.observer != nil {
			l.observer.CacheHit()
		}
		return true
	}
	return l.observeMiss()
}

// lookup is Get without the hit/miss accounting, for internal re-checks
// that must not count the same request twice.
func (l *Layer) lookup(ctx context.Context, key string, dest any) bool {
	if l.store == nil {
		return false
	}
	var raw string
	var found bool
	err := l.breaker.Execute(func() error {
		var err error
		raw, found, err = l.store.Get(ctx, key)
		return err
	})
	if err != nil {
		l.logger.Debug("cache get degraded to miss", "key", key, "error", err)
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		l.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return false
	}
	return true
}

// Set stores value under key with the class TTL. Failures are logged and
// swallowed.
func (l *Layer) Set(ctx context.Context, key string, value any, class Class) {
	if l.store == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		l.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = l.breaker.Execute(func() error {
		return l.store.Set(ctx, key, string(data), l.TTL(class))
	})
	if err != nil {
		l.logger.Debug("cache set skipped", "key", key, "error", err)
	}
}

// Invalidate removes the given keys. A failed invalidation is logged and
// swallowed; the entry still dies by TTL.
func (l *Layer) Invalidate(ctx context.Context, keys ...string) {
	if l.store == nil || len(keys) == 0 {
		return
	}
	err := l.breaker.Execute(func() error {
		return l.store.DeleteMany(ctx, keys...)
	})
	if err != nil {
		l.logger.Warn("cache invalidate skipped", "keys", keys, "error", err)
	}
}

// InvalidatePattern enumerates keys matching the glob pattern and removes
// them.
func (l *Layer) InvalidatePattern(ctx context.Context, pattern string) {
	if l.store == nil {
		return
	}
	err := l.breaker.Execute(func() error {
		keys, err := l.store.Keys(ctx, pattern)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		if err := l.store.DeleteMany(ctx, keys...); err != nil {
			return err
		}
		l.logger.Debug("cache pattern invalidated", "pattern", pattern, "keys_deleted", len(keys))
		return nil
	})
	if err != nil {
		l.logger.Warn("cache pattern invalidate skipped", "pattern", pattern, "error", err)
	}
}

// Connected reports whether the backing store currently answers a PING.
func (l *Layer) Connected(ctx context.Context) bool {
	if l.store == nil {
		return false
	}
	return l.store.Ping(ctx) == nil
}

// Stats returns the layer's hit and miss counts.
func (l *Layer) Stats() (hits, misses int64) {
	return l.hits.Load(), l.misses.Load()
}

func (l *Layer) observeMiss() bool {
	l.misses.Add(1)
	if l.observer != nil {
		l.observer.CacheMiss()
	}
	return false
}

// GetOrCompute is the read-through path: a hit returns the cached value;
// on a miss compute runs (deduplicated per key via singleflight) and its
// result is stored under the class TTL. The bool result reports a cache hit.
func GetOrCompute[T any](ctx context.Context, l *Layer, key string, class Class, compute func(ctx context.Context) (T, error)) (T, bool, error) {
	var cached T
	if l.Get(ctx, key, &cached) {
		return cached, true, nil
	}
	val, err, _ := l.group.Do(key, func() (any, error) {
		// A waiter may have filled the entry while we queued; this
		// re-check is part of the same request, so it stays out of
		// the hit/miss counts.
		var again T
		if l.lookup(ctx, key, &again) {
			return again, nil
		}
		fresh, err := compute(ctx)
		if err != nil {
			return fresh, err
		}
		l.Set(ctx, key, fresh, class)
		return fresh, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return val.(T), false, nil
}
