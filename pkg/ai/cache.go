package ai

import (
	"sync"
	"time"
)

// PromptCache memoizes model responses for identical prompts. Entries expire
// after a TTL so re-asked questions eventually reach the model again, picking
// up prompt or model revisions.
type PromptCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]promptEntry
}

type promptEntry struct {
	content  string
	cachedAt time.Time
}

// NewPromptCache creates a cache whose entries expire after ttl.
// A non-positive ttl disables expiry.
func NewPromptCache(ttl time.Duration) *PromptCache {
	return &PromptCache{
		ttl:     ttl,
		entries: make(map[string]promptEntry),
	}
}

// Get returns the cached response for key, if present and fresh.
// Expired entries are removed on access.
func (c *PromptCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.ttl > 0 && time.Since(e.cachedAt) > c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return e.content, true
}

// Set stores a response under key, replacing any previous entry.
func (c *PromptCache) Set(key, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = promptEntry{content: content, cachedAt: time.Now()}
}

// Cleanup removes expired entries. Callers run it periodically; Get also
// evicts lazily so skipping Cleanup only costs memory, not correctness.
func (c *PromptCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttl <= 0 {
		return 0
	}
	removed := 0
	cutoff := time.Now().Add(-c.ttl)
	for k, e := range c.entries {
		if e.cachedAt.Before(cutoff) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries, counting expired ones that have
// not been evicted yet.
func (c *PromptCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
