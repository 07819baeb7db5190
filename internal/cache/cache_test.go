package cache

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mealex/peerdir/pkg/config"
)

// fakeStore is an in-memory Store with real TTL expiry, driven by an
// injectable clock.
type fakeStore struct {
	mu      sync.Mutex
	data    map[string]fakeEntry
	now     func() time.Time
	failing bool
	gets    int
	sets    int
}

type fakeEntry struct {
	value     string
	expiresAt time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		data: make(map[string]fakeEntry),
		now:  time.Now,
	}
}

func (f *fakeStore) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.failing {
		return "", false, errors.New("store down")
	}
	e, ok := f.data[key]
	if !ok || f.now().After(e.expiresAt) {
		delete(f.data, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (f *fakeStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.failing {
		return errors.New("store down")
	}
	f.data[key] = fakeEntry{value: value, expiresAt: f.now().Add(ttl)}
	return nil
}

func (f *fakeStore) DeleteMany(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("store down")
	}
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errors.New("store down")
	}
	var out []string
	for k := range f.data {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.failing {
		return errors.New("store down")
	}
	return nil
}

func testTTLs() config.CacheTTLs {
	return config.CacheTTLs{
		Profile:     5 * time.Minute,
		ProfileList: 5 * time.Minute,
		Search:      3 * time.Minute,
		Invitation:  time.Minute,
		AuthToken:   5 * time.Minute,
	}
}

func TestGetSetRoundtrip(t *testing.T) {
	store := newFakeStore()
	layer := New(store, testTTLs(), nil)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}
	layer.Set(ctx, "profile:u1", payload{Name: "Ada"}, ClassProfile)

	var got payload
	if !layer.Get(ctx, "profile:u1", &got) {
		t.Fatal("expected cache hit")
	}
	if got.Name != "Ada" {
		t.Errorf("got %+v, want Name=Ada", got)
	}

	hits, misses := layer.Stats()
	if hits != 1 || misses != 0 {
		t.Errorf("stats = (%d, %d), want (1, 0)", hits, misses)
	}
}

func TestGetMissOnUnknownKey(t *testing.T) {
	layer := New(newFakeStore(), testTTLs(), nil)
	var dest string
	if layer.Get(context.Background(), "nope", &dest) {
		t.Fatal("expected miss for unknown key")
	}
	if _, misses := layer.Stats(); misses != 1 {
		t.Errorf("miss not counted")
	}
}

func TestEntriesExpireByClassTTL(t *testing.T) {
	store := newFakeStore()
	current := time.Now()
	var mu sync.Mutex
	store.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	layer := New(store, testTTLs(), nil)
	ctx := context.Background()

	layer.Set(ctx, "inv:u1", "pending", ClassInvitation)
	layer.Set(ctx, "profile:u1", "ada", ClassProfile)

	mu.Lock()
	current = current.Add(90 * time.Second)
	mu.Unlock()

	var dest string
	if layer.Get(ctx, "inv:u1", &dest) {
		t.Error("invitation entry should have expired after its 1m TTL")
	}
	if !layer.Get(ctx, "profile:u1", &dest) {
		t.Error("profile entry should survive 90s under its 5m TTL")
	}
}

func TestInvalidateRemovesKeys(t *testing.T) {
	store := newFakeStore()
	layer := New(store, testTTLs(), nil)
	ctx := context.Background()

	layer.Set(ctx, "a", 1, ClassProfile)
	layer.Set(ctx, "b", 2, ClassProfile)
	layer.Invalidate(ctx, "a", "b")

	var dest int
	if layer.Get(ctx, "a", &dest) || layer.Get(ctx, "b", &dest) {
		t.Error("invalidated keys still readable")
	}
}

func TestInvalidatePattern(t *testing.T) {
	store := newFakeStore()
	layer := New(store, testTTLs(), nil)
	ctx := context.Background()

	layer.Set(ctx, "search:abc", 1, ClassSearch)
	layer.Set(ctx, "search:def", 2, ClassSearch)
	layer.Set(ctx, "profile:u1", 3, ClassProfile)

	layer.InvalidatePattern(ctx, "search:*")

	var dest int
	if layer.Get(ctx, "search:abc", &dest) || layer.Get(ctx, "search:def", &dest) {
		t.Error("pattern invalidation left search entries behind")
	}
	if !layer.Get(ctx, "profile:u1", &dest) {
		t.Error("pattern invalidation removed an unrelated key")
	}
}

func TestStoreFailureDegradesToMiss(t *testing.T) {
	store := newFakeStore()
	store.failing = true
	layer := New(store, testTTLs(), nil)
	ctx := context.Background()

	var dest string
	if layer.Get(ctx, "k", &dest) {
		t.Fatal("failing store must read as a miss")
	}
	// None of these may panic or surface an error.
	layer.Set(ctx, "k", "v", ClassProfile)
	layer.Invalidate(ctx, "k")
	layer.InvalidatePattern(ctx, "search:*")
	if layer.Connected(ctx) {
		t.Error("failing store reported connected")
	}
}

func TestNilStoreReadsAsMiss(t *testing.T) {
	layer := New(nil, testTTLs(), nil)
	ctx := context.Background()

	var dest string
	if layer.Get(ctx, "k", &dest) {
		t.Fatal("nil store must read as a miss")
	}
	layer.Set(ctx, "k", "v", ClassProfile)
	layer.Invalidate(ctx, "k")
	if layer.Connected(ctx) {
		t.Error("nil store reported connected")
	}
}

func TestGetOrComputeCachesResult(t *testing.T) {
	store := newFakeStore()
	layer := New(store, testTTLs(), nil)
	ctx := context.Background()

	computes := 0
	compute := func(ctx context.Context) (string, error) {
		computes++
		return "fresh", nil
	}

	v, hit, err := GetOrCompute(ctx, layer, "k", ClassProfile, compute)
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	if hit || v != "fresh" {
		t.Errorf("first call = (%q, hit=%v), want (fresh, false)", v, hit)
	}

	v, hit, err = GetOrCompute(ctx, layer, "k", ClassProfile, compute)
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	if !hit || v != "fresh" {
		t.Errorf("second call = (%q, hit=%v), want (fresh, true)", v, hit)
	}
	if computes != 1 {
		t.Errorf("compute ran %d times, want 1", computes)
	}
}

func TestGetOrComputeCountsOneMissPerRequest(t *testing.T) {
	obs := &countingObserver{}
	layer := New(newFakeStore(), testTTLs(), obs)
	ctx := context.Background()

	_, _, err := GetOrCompute(ctx, layer, "k", ClassProfile, func(ctx context.Context) (string, error) {
		return "fresh", nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	hits, misses := layer.Stats()
	if hits != 0 || misses != 1 {
		t.Errorf("stats after one computed request = (%d hits, %d misses), want (0, 1)", hits, misses)
	}
	if obs.misses != 1 {
		t.Errorf("observer saw %d misses for one computed request, want 1", obs.misses)
	}
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	store := newFakeStore()
	layer := New(store, testTTLs(), nil)
	ctx := context.Background()

	boom := errors.New("boom")
	_, _, err := GetOrCompute(ctx, layer, "k", ClassProfile, func(ctx context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	v, hit, err := GetOrCompute(ctx, layer, "k", ClassProfile, func(ctx context.Context) (string, error) {
		return "recovered", nil
	})
	if err != nil || hit || v != "recovered" {
		t.Errorf("after failed compute = (%q, %v, %v), want (recovered, false, nil)", v, hit, err)
	}
}

func TestGetOrComputeDeduplicatesConcurrentComputes(t *testing.T) {
	store := newFakeStore()
	layer := New(store, testTTLs(), nil)
	ctx := context.Background()

	var mu sync.Mutex
	computes := 0
	release := make(chan struct{})
	compute := func(ctx context.Context) (string, error) {
		mu.Lock()
		computes++
		mu.Unlock()
		<-release
		return "shared", nil
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := GetOrCompute(ctx, layer, "k", ClassSearch, compute)
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
			}
			results[i] = v
		}(i)
	}

	// Give the workers time to pile onto the same key before releasing.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if computes != 1 {
		t.Errorf("compute ran %d times for one key, want 1", computes)
	}
	for i, v := range results {
		if v != "shared" {
			t.Errorf("worker %d got %q, want shared", i, v)
		}
	}
}

func TestObserverNotifiedOnHitAndMiss(t *testing.T) {
	obs := &countingObserver{}
	layer := New(newFakeStore(), testTTLs(), obs)
	ctx := context.Background()

	var dest string
	layer.Get(ctx, "k", &dest)
	layer.Set(ctx, "k", "v", ClassProfile)
	layer.Get(ctx, "k", &dest)

	if obs.hits != 1 || obs.misses != 1 {
		t.Errorf("observer = (%d hits, %d misses), want (1, 1)", obs.hits, obs.misses)
	}
}

type countingObserver struct {
	hits   int
	misses int
}

func (o *countingObserver) CacheHit()  { o.hits++ }
func (o *countingObserver) CacheMiss() { o.misses++ }

func TestTTLPerClass(t *testing.T) {
	layer := New(nil, testTTLs(), nil)
	tests := []struct {
		class Class
		want  time.Duration
	}{
		{ClassProfile, 5 * time.Minute},
		{ClassProfileList, 5 * time.Minute},
		{ClassSearch, 3 * time.Minute},
		{ClassInvitation, time.Minute},
		{ClassAuthToken, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := layer.TTL(tt.class); got != tt.want {
			t.Errorf("TTL(%s) = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestSearchKeyTagOrderInsensitive(t *testing.T) {
	a := SearchKey("CS", "2026", []string{"hiking", "chess"})
	b := SearchKey("CS", "2026", []string{"chess", "hiking"})
	if a != b {
		t.Errorf("tag order split the cache entry: %q vs %q", a, b)
	}
	c := SearchKey("CS", "2025", []string{"chess", "hiking"})
	if a == c {
		t.Error("different queries collided on one key")
	}
	if !strings.HasPrefix(a, "search:") {
		t.Errorf("search key %q missing search: prefix", a)
	}
}

func TestSearchKeyIsCaseSensitive(t *testing.T) {
	// The index matches attribute values exactly, so queries differing only
	// in case have different answers and must not share a cache entry.
	upper := SearchKey("CS", "2026", []string{"Chess"})
	lower := SearchKey("cs", "2026", []string{"chess"})
	if upper == lower {
		t.Error("case-distinct queries collided on one cache key")
	}
}

func TestAuthTokenKeyNeverEmbedsToken(t *testing.T) {
	const token = "super-secret-bearer-token"
	key := AuthTokenKey(token)
	if strings.Contains(key, token) {
		t.Error("raw token leaked into cache key")
	}
	if key != AuthTokenKey(token) {
		t.Error("key derivation not deterministic")
	}
	if key == AuthTokenKey("other-token") {
		t.Error("distinct tokens collided on one key")
	}
}
