package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/mealex/peerdir/pkg/logger"
)

// RetryConfig bounds a Retry loop. Zero fields take the defaults: three
// attempts starting at 100ms, capped at 10s. The delay doubles per attempt
// with up to a quarter of jitter so synchronized callers spread out.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	return c
}

// Retry runs fn until it succeeds, the attempts run out, or ctx is done.
// Callers that can tell permanent errors from transient ones should check
// before calling; Retry treats every error as transient.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	log := logger.WithComponent("retry").With("operation", name)

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				log.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if attempt >= cfg.MaxAttempts {
			return fmt.Errorf("all %d attempts failed for %s: %w", cfg.MaxAttempts, name, lastErr)
		}
		delay := backoff(attempt, cfg)
		log.Warn("attempt failed, backing off",
			slog.Int("attempt", attempt), slog.Duration("delay", delay), slog.Any("error", lastErr))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted during backoff: %w", ctx.Err())
		}
	}
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	delay := cfg.BaseDelay << (attempt - 1)
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	// Up to 25% jitter, subtracted so the cap above still holds.
	return delay - time.Duration(rand.Int63n(int64(delay)/4+1))
}
