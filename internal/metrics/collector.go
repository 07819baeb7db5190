// Package metrics tracks the request counters and sliding request-rate
// window served by the /api/metrics endpoint, mirroring into Prometheus.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const windowSpan = 60 * time.Second

// Snapshot is a read-only copy of all counters at one instant.
type Snapshot struct {
	TotalRequests     int64   `json:"totalRequests"`
	CacheHits         int64   `json:"cacheHits"`
	CacheMisses       int64   `json:"cacheMisses"`
	AvgLatencyMs      float64 `json:"avgLatencyMs"`
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	WindowSize        int     `json:"windowSize"`
}

// Prom receives the subset of observations mirrored into Prometheus
// collectors; pkg/metrics.Metrics satisfies it.
type Prom interface {
	ObserveCacheHit()
	ObserveCacheMiss()
	ObserveRebuild(profiles int, err error)
}

// Collector is the shared process-lifetime metrics instance. Counters use
// atomics; the latency mean and timestamp window are serialized by a mutex.
type Collector struct {
	total  atomic.Int64
	hits   atomic.Int64
	misses atomic.Int64

	mu        sync.Mutex
	completed int64
	avgMs     float64
	window    []time.Time
	rps       float64

	prom Prom
	now  func() time.Time
}

// New creates a Collector. prom may be nil.
func New(prom Prom) *Collector {
	return &Collector{
		prom: prom,
		now:  time.Now,
	}
}

// OnRequestStart counts the request and records its timestamp in the
// rolling window.
func (c *Collector) OnRequestStart() {
	c.total.Add(1)
	now := c.now()
	c.mu.Lock()
	c.window = append(c.window, now)
	c.mu.Unlock()
}

// OnRequestFinish folds the request duration into the cumulative mean:
// avg += (d - avg) / n. This is the exact running mean, not an exponential
// approximation.
func (c *Collector) OnRequestFinish(duration time.Duration) {
	ms := float64(duration.Microseconds()) / 1000.0
	c.mu.Lock()
	c.completed++
	c.avgMs += (ms - c.avgMs) / float64(c.completed)
	c.mu.Unlock()
}

// CacheHit counts one cache hit.
func (c *Collector) CacheHit() {
	c.hits.Add(1)
	if c.prom != nil {
		c.prom.ObserveCacheHit()
	}
}

// CacheMiss counts one cache miss.
func (c *Collector) CacheMiss() {
	c.misses.Add(1)
	if c.prom != nil {
		c.prom.ObserveCacheMiss()
	}
}

// IndexRebuilt forwards rebuild outcomes to Prometheus.
func (c *Collector) IndexRebuilt(profiles int, err error) {
	if c.prom != nil {
		c.prom.ObserveRebuild(profiles, err)
	}
}

// Run prunes the request window once per second until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.prune()
		}
	}
}

// prune drops window timestamps older than 60 seconds and recomputes the
// request rate as window size / 60.
func (c *Collector) prune() {
	cutoff := c.now().Add(-windowSpan)
	c.mu.Lock()
	kept := c.window[:0]
	for _, ts := range c.window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	c.window = kept
	c.rps = float64(len(c.window)) / windowSpan.Seconds()
	c.mu.Unlock()
}

// Snapshot returns a copy of all counters. Callers never see or mutate
// shared state.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	avg := c.avgMs
	rps := c.rps
	size := len(c.window)
	c.mu.Unlock()
	return Snapshot{
		TotalRequests:     c.total.Load(),
		CacheHits:         c.hits.Load(),
		CacheMisses:       c.misses.Load(),
		AvgLatencyMs:      avg,
		RequestsPerSecond: rps,
		WindowSize:        size,
	}
}
