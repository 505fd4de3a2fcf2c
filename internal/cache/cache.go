package cache

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a concurrency-safe cache with age-based expiry. It is injected
// where needed (the score service) instead of living as ambient global
// state, so derivation passes stay independently testable.
type TTL[V any] struct {
	m   *xsync.Map[string, entry[V]]
	ttl time.Duration
	now func() time.Time
}

func New[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{
		m:   xsync.NewMap[string, entry[V]](),
		ttl: ttl,
		now: time.Now,
	}
}

// Get returns the cached value if present and not expired. Expired entries
// are evicted on read.
func (c *TTL[V]) Get(key string) (V, bool) {
	var zero V
	e, ok := c.m.Load(key)
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		c.m.Delete(key)
		return zero, false
	}
	return e.value, true
}

func (c *TTL[V]) Set(key string, value V) {
	c.m.Store(key, entry[V]{value: value, expiresAt: c.now().Add(c.ttl)})
}

func (c *TTL[V]) Delete(key string) {
	c.m.Delete(key)
}

// Purge evicts every expired entry and returns how many were removed.
func (c *TTL[V]) Purge() int {
	removed := 0
	now := c.now()
	c.m.Range(func(key string, e entry[V]) bool {
		if now.After(e.expiresAt) {
			c.m.Delete(key)
			removed++
		}
		return true
	})
	return removed
}
