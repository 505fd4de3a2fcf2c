package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLGetSet(t *testing.T) {
	c := New[int](time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 42)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := New[string](time.Minute)
	current := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return current }

	c.Set("a", "fresh")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "fresh", v)

	current = current.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "expired entry evicted on read")
}

func TestTTLPurge(t *testing.T) {
	c := New[int](time.Minute)
	current := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return current }

	c.Set("a", 1)
	c.Set("b", 2)
	current = current.Add(30 * time.Second)
	c.Set("c", 3)

	current = current.Add(45 * time.Second) // a and b expired, c still fresh
	assert.Equal(t, 2, c.Purge())

	_, ok := c.Get("c")
	assert.True(t, ok)
}
