package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mealex/peerdir/internal/cache"
	"github.com/mealex/peerdir/internal/index"
	"github.com/mealex/peerdir/internal/profile"
	"github.com/mealex/peerdir/pkg/config"
)

type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemKV() *memKV { return &memKV{data: make(map[string]string)} }

func (m *memKV) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memKV) DeleteMany(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memKV) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := pattern[:len(pattern)-1] // patterns here are always "prefix*"
	var out []string
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memKV) Ping(ctx context.Context) error { return nil }

type countingSource struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSource) All(ctx context.Context) (map[string]profile.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil, nil
}

func (s *countingSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestHandlerAppliesInvalidation(t *testing.T) {
	kv := newMemKV()
	layer := cache.New(kv, config.CacheTTLs{Profile: time.Minute, Search: time.Minute}, nil)

	source := &countingSource{}
	builder := index.NewBuilder(source, time.Hour, nil)
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go builder.Run(runCtx)
	waitFor(t, func() bool { return source.callCount() == 1 })

	handle := Handler(layer, builder)
	ctx := context.Background()

	layer.Set(ctx, "profile:u1", "ada", cache.ClassProfile)
	layer.Set(ctx, "profiles:all", "everyone", cache.ClassProfile)
	layer.Set(ctx, "search:abc", "results", cache.ClassSearch)

	raw, err := json.Marshal(Invalidation{
		Entity:       "profile",
		ID:           "u1",
		Keys:         []string{"profile:u1", "profiles:all"},
		Patterns:     []string{"search:*"},
		RebuildIndex: true,
	})
	if err != nil {
		t.Fatalf("encoding event: %v", err)
	}
	if err := handle(ctx, []byte("profile:u1"), raw); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	var dest string
	if layer.Get(ctx, "profile:u1", &dest) || layer.Get(ctx, "profiles:all", &dest) {
		t.Error("listed keys survived invalidation")
	}
	if layer.Get(ctx, "search:abc", &dest) {
		t.Error("pattern-matched key survived invalidation")
	}

	// The event requested a rebuild; the builder serves it shortly.
	waitFor(t, func() bool { return source.callCount() == 2 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestHandlerRejectsMalformedEvent(t *testing.T) {
	layer := cache.New(newMemKV(), config.CacheTTLs{}, nil)
	builder := index.NewBuilder(&countingSource{}, time.Hour, nil)
	handle := Handler(layer, builder)

	if err := handle(context.Background(), nil, []byte("not json")); err == nil {
		t.Error("malformed event accepted")
	}
}

func TestNilPublisherDropsEvents(t *testing.T) {
	var p *Publisher
	// Must not panic.
	p.Publish(context.Background(), Invalidation{Entity: "profile", ID: "u1"})

	NewPublisher(nil).Publish(context.Background(), Invalidation{Entity: "profile", ID: "u1"})
}
