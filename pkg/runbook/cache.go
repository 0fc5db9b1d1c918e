// Package runbook fetches operational runbooks over HTTP from
// allow-listed domains, caches them, and seeds them into the runbooks
// similarity corpus for the RAG agent.
package runbook

import (
	"sync"
	"time"

	"github.com/faultline-io/faultline/pkg/vector"
)

// Runbook is one resolved runbook: the raw markdown plus its
// per-heading sections, ready for indexing.
type Runbook struct {
	Source    string
	Content   string
	Sections  []vector.Document
	FetchedAt time.Time
}

// Cache keeps resolved runbooks in memory until their TTL lapses.
// Stale entries are swept whenever a fresh runbook is stored; Get
// treats them as absent.
type Cache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	byURL map[string]*Runbook
}

// NewCache creates a cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, byURL: make(map[string]*Runbook)}
}

// Get returns the runbook cached for a fetch URL while it is still
// fresh.
func (c *Cache) Get(url string) (*Runbook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rb, ok := c.byURL[url]
	if !ok || time.Since(rb.FetchedAt) > c.ttl {
		return nil, false
	}
	return rb, true
}

// Put stores a freshly resolved runbook and sweeps expired entries.
func (c *Cache) Put(url string, rb *Runbook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, old := range c.byURL {
		if time.Since(old.FetchedAt) > c.ttl {
			delete(c.byURL, key)
		}
	}
	c.byURL[url] = rb
}
