package bus

import (
	"sync"
	"time"
)

// DedupeCache is a TTL-bounded set of recently seen message IDs.
// Both ingestion paths (webhook and polling) consult it before publishing,
// so a message observed on one path is suppressed on the other.
// Safe for concurrent use.
type DedupeCache struct {
	ttl        time.Duration
	maxEntries int

	mu      sync.Mutex
	entries map[string]time.Time // id → first-seen time
}

// NewDedupeCache creates a dedupe cache. Entries expire after ttl; the cache
// never tracks more than maxEntries keys (oldest pruned first on overflow).
func NewDedupeCache(ttl time.Duration, maxEntries int) *DedupeCache {
	return &DedupeCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]time.Time),
	}
}

// Seen records id and reports whether it was already present and unexpired.
// The first call for a given id returns false; subsequent calls within the
// TTL return true.
func (c *DedupeCache) Seen(id string) bool {
	if id == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if at, ok := c.entries[id]; ok {
		if now.Sub(at) < c.ttl {
			return true
		}
		// expired — treat as new
	}

	if len(c.entries) >= c.maxEntries {
		c.prune(now)
	}

	c.entries[id] = now
	return false
}

// Contains reports whether id is present and unexpired, without recording it.
// Use this for early suppression when processing may still fail; record with
// Seen only once the message is actually handled.
func (c *DedupeCache) Contains(id string) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.entries[id]
	return ok && time.Since(at) < c.ttl
}

// prune removes expired entries, then evicts oldest entries if still at cap.
// Caller must hold c.mu.
func (c *DedupeCache) prune(now time.Time) {
	for k, at := range c.entries {
		if now.Sub(at) >= c.ttl {
			delete(c.entries, k)
		}
	}
	for len(c.entries) >= c.maxEntries {
		var oldestKey string
		var oldestAt time.Time
		for k, at := range c.entries {
			if oldestKey == "" || at.Before(oldestAt) {
				oldestKey, oldestAt = k, at
			}
		}
		delete(c.entries, oldestKey)
	}
}

// Len returns the number of tracked IDs (expired entries included until pruned).
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
