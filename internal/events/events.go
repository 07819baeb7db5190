// Package events fans cache invalidations out through Kafka so every
// replica's cache tier converges after a write without waiting a full TTL.
package events

import (
	"context"
	"log/slog"

	"github.com/mealex/peerdir/internal/cache"
	"github.com/mealex/peerdir/internal/index"
	"github.com/mealex/peerdir/pkg/kafka"
	"github.com/mealex/peerdir/pkg/logger"
)

// Invalidation names the cache keys and patterns a mutation could have
// left stale. RebuildIndex marks mutations that change indexed attributes.
type Invalidation struct {
	Entity       string   `json:"entity"`
	ID           string   `json:"id"`
	Keys         []string `json:"keys,omitempty"`
	Patterns     []string `json:"patterns,omitempty"`
	RebuildIndex bool     `json:"rebuildIndex,omitempty"`
}

// Publisher emits invalidation events. A nil Publisher drops them, so
// single-instance deployments can run without Kafka.
type Publisher struct {
	producer *kafka.Producer
	logger   *slog.Logger
}

// NewPublisher wraps a Kafka producer for the cache-invalidate topic.
func NewPublisher(producer *kafka.Producer) *Publisher {
	return &Publisher{
		producer: producer,
		logger:   logger.WithComponent("invalidation-publisher"),
	}
}

// Publish emits one invalidation event. Publish failures are logged and
// swallowed: the local invalidation already happened and remote caches
// still converge by TTL.
func (p *Publisher) Publish(ctx context.Context, inv Invalidation) {
	if p == nil || p.producer == nil {
		return
	}
	err := p.producer.Publish(ctx, kafka.Event{
		Key:   inv.Entity + ":" + inv.ID,
		Value: inv,
	})
	if err != nil {
		p.logger.Warn("invalidation event dropped", "entity", inv.Entity, "id", inv.ID, "error", err)
	}
}

// Handler returns a Kafka message handler that applies invalidation events
// against the local cache layer and index builder.
func Handler(layer *cache.Layer, builder *index.Builder) kafka.MessageHandler {
	log := logger.WithComponent("invalidation-consumer")
	return func(ctx context.Context, key, value []byte) error {
		inv, err := kafka.DecodeJSON[Invalidation](value)
		if err != nil {
			return err
		}
		layer.Invalidate(ctx, inv.Keys...)
		for _, pattern := range inv.Patterns {
			layer.InvalidatePattern(ctx, pattern)
		}
		if inv.RebuildIndex {
			builder.TriggerRebuild()
		}
		log.Debug("invalidation applied", "entity", inv.Entity, "id", inv.ID)
		return nil
	}
}
