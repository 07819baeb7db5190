package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mealex/peerdir/internal/profile"
	"github.com/mealex/peerdir/pkg/logger"
)

// Source supplies the full profile snapshot a rebuild iterates over.
type Source interface {
	All(ctx context.Context) (map[string]profile.Record, error)
}

// RebuildObserver is notified after each rebuild attempt; the app metrics
// collector implements it.
type RebuildObserver interface {
	IndexRebuilt(profiles int, err error)
}

// Builder owns the published index snapshot. Rebuilds run strictly
// serialized in one background goroutine, driven by a ticker and by
// TriggerRebuild signals; the buffered(1) signal channel coalesces bursts
// of triggers into at most one pending rebuild.
type Builder struct {
	source   Source
	interval time.Duration
	signal   chan struct{}
	current  atomic.Pointer[Snapshot]
	observer RebuildObserver
	logger   *slog.Logger
}

// NewBuilder creates a Builder publishing an empty (but fully built)
// snapshot, so Current never returns nil.
func NewBuilder(source Source, interval time.Duration, observer RebuildObserver) *Builder {
	b := &Builder{
		source:   source,
		interval: interval,
		signal:   make(chan struct{}, 1),
		observer: observer,
		logger:   logger.WithComponent("index-builder"),
	}
	b.current.Store(Build(nil, time.Time{}))
	return b
}

// Current returns the published snapshot. Queries must acquire it once and
// use that reference throughout; a rebuild swap mid-query is then invisible.
func (b *Builder) Current() *Snapshot {
	return b.current.Load()
}

// TriggerRebuild requests an asynchronous rebuild. When one is already in
// flight the request lands in the single-slot queue; further requests while
// that slot is full are dropped as duplicates.
func (b *Builder) TriggerRebuild() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Run performs an initial rebuild and then serves the ticker and trigger
// signals until ctx is cancelled. It is meant to run in its own goroutine.
func (b *Builder) Run(ctx context.Context) {
	if err := b.Rebuild(ctx); err != nil {
		b.logger.Error("initial index build failed, serving empty index", "error", err)
	}
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("index builder stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			b.TriggerRebuild()
		case <-b.signal:
			if err := b.Rebuild(ctx); err != nil {
				b.logger.Error("index rebuild failed, previous snapshot retained",
					"error", err,
					"stale_since", b.Current().BuiltAt(),
				)
			}
		}
	}
}

// Rebuild fetches the full profile snapshot, builds a fresh index, and
// atomically publishes it. On source failure the previous snapshot stays
// published unchanged.
func (b *Builder) Rebuild(ctx context.Context) error {
	start := time.Now()
	records, err := b.source.All(ctx)
	if err != nil {
		if b.observer != nil {
			b.observer.IndexRebuilt(0, err)
		}
		return fmt.Errorf("fetching profile snapshot: %w", err)
	}
	snapshot := Build(records, time.Now().UTC())
	b.current.Store(snapshot)
	if b.observer != nil {
		b.observer.IndexRebuilt(snapshot.Profiles(), nil)
	}
	b.logger.Info("index rebuilt",
		"profiles", snapshot.Profiles(),
		"took", time.Since(start).Round(time.Millisecond),
	)
	return nil
}
