package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fixedClock lets tests move the limiter's notion of now.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) get() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(window time.Duration, max int) (*Limiter, *fixedClock) {
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)}
	l := New(window, max)
	l.now = clock.get
	return l, clock
}

func TestAdmitUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 100)

	for i := 0; i < 100; i++ {
		if !l.Admit("client-a") {
			t.Fatalf("request %d rejected under the limit", i+1)
		}
	}
	if l.Admit("client-a") {
		t.Error("request over the limit admitted")
	}
}

func TestIdentitiesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 2)

	l.Admit("client-a")
	l.Admit("client-a")
	if l.Admit("client-a") {
		t.Fatal("client-a admitted past its limit")
	}
	if !l.Admit("client-b") {
		t.Error("client-b throttled by client-a's usage")
	}
}

func TestWindowResetRestoresCapacity(t *testing.T) {
	l, clock := newTestLimiter(time.Minute, 2)

	l.Admit("client-a")
	l.Admit("client-a")
	if l.Admit("client-a") {
		t.Fatal("admitted past the limit")
	}

	// Cross the next minute boundary: capacity is fully restored.
	clock.advance(time.Minute)
	if !l.Admit("client-a") {
		t.Error("not admitted after window reset")
	}
}

func TestRejectionsDoNotConsumeFutureCapacity(t *testing.T) {
	l, clock := newTestLimiter(time.Minute, 2)

	l.Admit("client-a")
	l.Admit("client-a")
	for i := 0; i < 50; i++ {
		l.Admit("client-a")
	}

	clock.advance(time.Minute)
	if !l.Admit("client-a") || !l.Admit("client-a") {
		t.Error("rejected requests reduced the next window's capacity")
	}
}

func TestResetClearsOneIdentity(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 1)

	l.Admit("client-a")
	l.Admit("client-b")
	l.Reset("client-a")

	if !l.Admit("client-a") {
		t.Error("client-a still limited after reset")
	}
	if l.Admit("client-b") {
		t.Error("reset of client-a leaked to client-b")
	}
}

func TestWindowsAlignToWallClock(t *testing.T) {
	l, clock := newTestLimiter(time.Minute, 1)

	// 30 seconds into the current minute; the boundary is 30 seconds away,
	// not a full window.
	l.Admit("client-a")
	clock.advance(31 * time.Second)
	if !l.Admit("client-a") {
		t.Error("boundary crossing did not reset the window")
	}
}
