package mapper

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type cacheEntry struct {
	id       uuid.UUID
	storedAt time.Time
}

// nameCache is a per-namespace TTL cache of lower-cased name → canonical ID.
// Read-heavy with rare writes, so a read-write lock is enough.
type nameCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration

	hits   int64
	misses int64
}

func newNameCache(ttl time.Duration) *nameCache {
	return &nameCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

func (c *nameCache) get(name string, now time.Time) (uuid.UUID, bool) {
	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()

	if ok && now.Sub(entry.storedAt) <= c.ttl {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return entry.id, true
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return uuid.Nil, false
}

func (c *nameCache) put(name string, id uuid.UUID, now time.Time) {
	c.mu.Lock()
	c.entries[name] = cacheEntry{id: id, storedAt: now}
	c.mu.Unlock()
}

func (c *nameCache) sweep(now time.Time) {
	c.mu.Lock()
	for name, entry := range c.entries {
		if now.Sub(entry.storedAt) > c.ttl {
			delete(c.entries, name)
		}
	}
	c.mu.Unlock()
}

func (c *nameCache) stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

func (c *nameCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
