package monitor

import (
	"sync"
	"time"
)

// StatusCache holds the last successful status for a fixed TTL. A zero TTL disables caching.
type StatusCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	status Status
	at     time.Time
	valid  bool
}

// NewStatusCache returns an empty cache whose entries expire after ttl.
func NewStatusCache(ttl time.Duration) *StatusCache {
	return &StatusCache{ttl: ttl}
}

// Get returns the cached status if it is younger than the TTL at now. An expired entry is evicted.
func (c *StatusCache) Get(now time.Time) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return Status{}, false
	}
	if c.ttl <= 0 || now.Sub(c.at) >= c.ttl {
		c.valid = false
		return Status{}, false
	}
	return c.status, true
}

// Put stores st as observed at now.
func (c *StatusCache) Put(now time.Time, st Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status, c.at, c.valid = st, now, true
}

// Clear drops the cached entry.
func (c *StatusCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}
