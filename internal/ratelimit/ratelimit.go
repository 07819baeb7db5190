// Package ratelimit implements fixed-window admission control. Each client
// identity gets a counter bound to a wall-clock-aligned window; the counter
// resets when the boundary passes. Bursts across a window boundary can
// briefly exceed the nominal rate.
package ratelimit

import (
	"sync"
	"time"
)

// entry tracks the admission count for one identity within one window.
type entry struct {
	count       int
	windowStart time.Time
}

// Limiter is an in-memory fixed-window rate limiter.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	window  time.Duration
	max     int
	now     func() time.Time
}

// New creates a rate limiter admitting max requests per identity per window.
func New(window time.Duration, max int) *Limiter {
	l := &Limiter{
		entries: make(map[string]*entry),
		window:  window,
		max:     max,
		now:     time.Now,
	}
	go l.cleanup()
	return l
}

// Admit reports whether the identity has remaining capacity in the current
// window, consuming one admission when it does. Rejected requests are not
// counted against future windows.
func (l *Limiter) Admit(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	boundary := l.now().Truncate(l.window)
	e, exists := l.entries[identity]
	if !exists || e.windowStart.Before(boundary) {
		l.entries[identity] = &entry{count: 1, windowStart: boundary}
		return true
	}
	if e.count >= l.max {
		return false
	}
	e.count++
	return true
}

// Reset clears the state for a specific identity.
func (l *Limiter) Reset(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, identity)
}

// cleanup periodically removes entries from past windows to prevent
// unbounded growth.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		boundary := l.now().Truncate(l.window)
		for identity, e := range l.entries {
			if e.windowStart.Before(boundary) {
				delete(l.entries, identity)
			}
		}
		l.mu.Unlock()
	}
}
