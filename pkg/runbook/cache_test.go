package runbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cached(content string, age time.Duration) *Runbook {
	return &Runbook{
		Source:    "https://example.com/rb.md",
		Content:   content,
		FetchedAt: time.Now().Add(-age),
	}
}

func TestCachePutGet(t *testing.T) {
	cache := NewCache(time.Minute)

	cache.Put("https://example.com/rb.md", cached("content", 0))

	rb, ok := cache.Get("https://example.com/rb.md")
	require.True(t, ok)
	assert.Equal(t, "content", rb.Content)
}

func TestCacheMiss(t *testing.T) {
	cache := NewCache(time.Minute)

	_, ok := cache.Get("https://example.com/missing.md")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	cache := NewCache(10 * time.Millisecond)

	cache.Put("key", cached("content", 20*time.Millisecond))

	_, ok := cache.Get("key")
	assert.False(t, ok)
}

func TestCacheOverwrite(t *testing.T) {
	cache := NewCache(time.Minute)

	cache.Put("key", cached("old", 0))
	cache.Put("key", cached("new", 0))

	rb, ok := cache.Get("key")
	require.True(t, ok)
	assert.Equal(t, "new", rb.Content)
}

func TestCachePutSweepsExpiredEntries(t *testing.T) {
	cache := NewCache(time.Minute)

	cache.Put("stale", cached("old", 2*time.Minute))
	cache.Put("fresh", cached("new", 0))

	_, ok := cache.Get("stale")
	assert.False(t, ok)
	assert.Len(t, cache.byURL, 1)
}
