package tools

import (
	"sync"
	"time"
)

const (
	defaultFailedTTL        = 10 * time.Minute
	defaultMaxFailedHistory = 100
)

type failedEntry struct {
	hash      string
	expiresAt time.Time
	hinted    bool
}

// FailedCallCache remembers recently failed call hashes so identical
// retries can be intercepted. Entries expire after a TTL and the cache
// evicts oldest-first when full.
type FailedCallCache struct {
	mu      sync.Mutex
	entries []failedEntry
	index   map[string]int
	ttl     time.Duration
	cap     int
	now     func() time.Time
}

// NewFailedCallCache creates a cache with the given TTL and capacity;
// zero values select the defaults.
func NewFailedCallCache(ttl time.Duration, capacity int) *FailedCallCache {
	if ttl <= 0 {
		ttl = defaultFailedTTL
	}
	if capacity <= 0 {
		capacity = defaultMaxFailedHistory
	}
	return &FailedCallCache{
		index: make(map[string]int),
		ttl:   ttl,
		cap:   capacity,
		now:   time.Now,
	}
}

// Add records a failed call hash.
func (c *FailedCallCache) Add(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	if _, ok := c.index[hash]; ok {
		return
	}
	if len(c.entries) >= c.cap {
		evicted := c.entries[0]
		c.entries = c.entries[1:]
		delete(c.index, evicted.hash)
		c.reindexLocked()
	}
	c.entries = append(c.entries, failedEntry{hash: hash, expiresAt: c.now().Add(c.ttl)})
	c.index[hash] = len(c.entries) - 1
}

// Contains reports whether the hash is a live failed entry.
func (c *FailedCallCache) Contains(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	_, ok := c.index[hash]
	return ok
}

// MarkHinted records that the one-shot reflect-before-retry hint has
// been issued for this hash; returns true the first time only.
func (c *FailedCallCache) MarkHinted(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	i, ok := c.index[hash]
	if !ok || c.entries[i].hinted {
		return false
	}
	c.entries[i].hinted = true
	return true
}

// Remove clears a hash, typically after the same call later succeeded.
func (c *FailedCallCache) Remove(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[hash]
	if !ok {
		return
	}
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	delete(c.index, hash)
	c.reindexLocked()
}

// Len returns the number of live entries.
func (c *FailedCallCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	return len(c.entries)
}

func (c *FailedCallCache) pruneLocked() {
	now := c.now()
	kept := c.entries[:0]
	for _, e := range c.entries {
		if e.expiresAt.After(now) {
			kept = append(kept, e)
		} else {
			delete(c.index, e.hash)
		}
	}
	if len(kept) != len(c.entries) {
		c.entries = kept
		c.reindexLocked()
	}
}

func (c *FailedCallCache) reindexLocked() {
	for i, e := range c.entries {
		c.index[e.hash] = i
	}
}
