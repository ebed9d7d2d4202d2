package session

import (
	"sync"
	"time"

	"github.com/user/docqa/internal/rag"
)

type cacheEntry struct {
	artifact   *rag.Artifact
	lastAccess time.Time
}

// Cache holds deserialized artifacts, process-private. Entries carry no TTL of
// their own: their lifecycle is subordinate to the session's, so the registry
// and sweeper invalidate them on supersede, failure and eviction.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cacheEntry), now: time.Now}
}

func (c *Cache) Get(uid string) (*rag.Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[uid]
	if !ok {
		return nil, false
	}
	e.lastAccess = c.now()
	return e.artifact, true
}

func (c *Cache) Put(uid string, artifact *rag.Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[uid] = &cacheEntry{artifact: artifact, lastAccess: c.now()}
}

func (c *Cache) Invalidate(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, uid)
}

// Entries snapshots uid -> last access time for the sweeper.
func (c *Cache) Entries() map[string]time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]time.Time, len(c.entries))
	for uid, e := range c.entries {
		out[uid] = e.lastAccess
	}
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
