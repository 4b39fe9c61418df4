package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := New[string, bool](time.Minute)
	_, ok := c.Get("missing")
	require.False(t, ok)

	c.Set("dealA", true)
	v, ok := c.Get("dealA")
	require.True(t, ok)
	require.True(t, v)
}

func TestTTLCacheExpires(t *testing.T) {
	c := New[string, int](time.Millisecond)
	c.Set("k", 42)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestTTLCacheDelete(t *testing.T) {
	c := New[string, int](time.Minute)
	c.Set("k", 1)
	c.Delete("k")

	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestTTLCacheSetResetsExpiry(t *testing.T) {
	c := New[int, string](50 * time.Millisecond)
	c.Set(1, "first")
	time.Sleep(30 * time.Millisecond)
	c.Set(1, "second")
	time.Sleep(30 * time.Millisecond)

	v, ok := c.Get(1)
	require.True(t, ok)
	require.Equal(t, "second", v)
}
