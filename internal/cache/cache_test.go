package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissingKey(t *testing.T) {
	c := New()
	_, ok := c.Get("stats")
	assert.False(t, ok)
}

func TestSetThenGet(t *testing.T) {
	c := New()
	c.Set("stats", 42)

	v, ok := c.Get("stats")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestEntryExpires(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewWithTTL(30 * time.Second)
	c.SetClock(func() time.Time { return now })

	c.Set("stats", "v1")

	now = now.Add(29 * time.Second)
	_, ok := c.Get("stats")
	assert.True(t, ok, "still fresh at 29s")

	now = now.Add(2 * time.Second)
	_, ok = c.Get("stats")
	assert.False(t, ok, "expired past the TTL")
}

func TestSetRefreshesExpiry(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewWithTTL(30 * time.Second)
	c.SetClock(func() time.Time { return now })

	c.Set("stats", "v1")
	now = now.Add(20 * time.Second)
	c.Set("stats", "v2")
	now = now.Add(20 * time.Second)

	v, ok := c.Get("stats")
	require.True(t, ok, "rewrite restarts the TTL")
	assert.Equal(t, "v2", v)
}

func TestInvalidate(t *testing.T) {
	c := New()
	c.Set("stats", 1)
	c.Invalidate("stats")

	_, ok := c.Get("stats")
	assert.False(t, ok)
}
