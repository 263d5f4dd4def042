package nostrauth

import (
	"sync"
	"time"
)

// ReplayCache remembers auth event ids until they can no longer pass the
// freshness check, so each signed event is accepted at most once.
type ReplayCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewReplayCache returns an empty cache.
func NewReplayCache() *ReplayCache {
	return &ReplayCache{seen: make(map[string]time.Time), now: time.Now}
}

// Remember records id until expiresAt. It returns false if id was already
// recorded and has not yet expired.
func (c *ReplayCache) Remember(id string, expiresAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, exp := range c.seen {
		if !now.Before(exp) {
			delete(c.seen, k)
		}
	}
	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = expiresAt
	return true
}

// Len returns the number of ids currently tracked.
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
