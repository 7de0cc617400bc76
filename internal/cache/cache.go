package cache

import (
	"sync"
	"time"
)

// DefaultTTL bounds how stale an admin aggregate may be served.
const DefaultTTL = 30 * time.Second

type item struct {
	value     interface{}
	expiresAt time.Time
}

// TTLCache is a time-boxed memoization layer for expensive aggregate queries.
// The clock is injectable so expiry is testable without sleeping.
type TTLCache struct {
	mu    sync.RWMutex
	items map[string]item
	ttl   time.Duration
	now   func() time.Time
}

// New creates a cache with the default TTL
func New() *TTLCache {
	return NewWithTTL(DefaultTTL)
}

// NewWithTTL creates a cache with a custom TTL
func NewWithTTL(ttl time.Duration) *TTLCache {
	return &TTLCache{
		items: make(map[string]item),
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (c *TTLCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the cached value for key if present and unexpired
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || c.now().After(it.expiresAt) {
		return nil, false
	}
	return it.value, true
}

// Set stores value under key for the cache's TTL
func (c *TTLCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate drops key immediately
func (c *TTLCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}
