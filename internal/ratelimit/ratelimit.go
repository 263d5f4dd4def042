// Package ratelimit provides fixed-window attempt counters keyed by an
// arbitrary identifier, typically the client IP.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultLimit is the number of onboarding attempts allowed per window.
	DefaultLimit = 10
	// DefaultWindow is the onboarding window length.
	DefaultWindow = time.Hour
)

// Limiter decides whether another attempt for key is allowed and counts it.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type window struct {
	start time.Time
	count int
}

// FixedWindow is an in-memory fixed-window counter. Windows are reset lazily
// on the next attempt after they elapse; there is no background sweeper, so
// idle keys are pruned opportunistically.
type FixedWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	entries   map[string]*window
	lastPrune time.Time
}

// NewFixedWindow returns a limiter allowing limit attempts per window.
// Non-positive values fall back to DefaultLimit and DefaultWindow.
func NewFixedWindow(limit int, length time.Duration) *FixedWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if length <= 0 {
		length = DefaultWindow
	}
	return &FixedWindow{
		limit:   limit,
		window:  length,
		now:     time.Now,
		entries: make(map[string]*window),
	}
}

// SetClock replaces the time source; used by tests.
func (f *FixedWindow) SetClock(now func() time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// Allow implements Limiter. It never returns an error.
func (f *FixedWindow) Allow(_ context.Context, key string) (bool, error) {
	return f.CheckOnboard(key), nil
}

// CheckOnboard counts an attempt for key and reports whether it is allowed.
// The first attempt of a window always succeeds and starts the count at 1;
// later attempts succeed while the count is below the limit.
func (f *FixedWindow) CheckOnboard(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	f.pruneLocked(now)

	e, ok := f.entries[key]
	if !ok || now.Sub(e.start) >= f.window {
		f.entries[key] = &window{start: now, count: 1}
		return true
	}
	if e.count < f.limit {
		e.count++
		return true
	}
	return false
}

// pruneLocked drops expired entries at most once per window.
func (f *FixedWindow) pruneLocked(now time.Time) {
	if now.Sub(f.lastPrune) < f.window {
		return
	}
	f.lastPrune = now
	for k, e := range f.entries {
		if now.Sub(e.start) >= f.window {
			delete(f.entries, k)
		}
	}
}

// Len returns the number of tracked keys.
func (f *FixedWindow) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
