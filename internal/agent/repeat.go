package agent

import (
	"container/list"
	"sort"
	"strings"
	"sync"
)

// RepeatWindow tracks consecutive identical tool-call batches within a
// turn. The signature of a batch is its sorted call hashes joined.
type RepeatWindow struct {
	lastSignature string
	repeatCount   int
}

// Observe records a batch and returns the consecutive repeat count for
// its signature (1 on first sight).
func (w *RepeatWindow) Observe(hashes []string) int {
	sig := BatchSignature(hashes)
	if sig == w.lastSignature {
		w.repeatCount++
	} else {
		w.lastSignature = sig
		w.repeatCount = 1
	}
	return w.repeatCount
}

// BatchSignature canonicalizes a batch of call hashes.
func BatchSignature(hashes []string) string {
	sorted := append([]string(nil), hashes...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

// usedToolsCacheCap bounds the per-trace used-tools registry.
const usedToolsCacheCap = 200

// UsedToolsCache remembers the ordered unique tools used per trace so
// the turn services can audit the final text. LRU-evicted at capacity.
type UsedToolsCache struct {
	mu    sync.Mutex
	order *list.List
	items map[string]*list.Element
	cap   int
}

type usedToolsEntry struct {
	traceID string
	tools   []string
}

func NewUsedToolsCache() *UsedToolsCache {
	return &UsedToolsCache{
		order: list.New(),
		items: make(map[string]*list.Element),
		cap:   usedToolsCacheCap,
	}
}

// Put stores the ordered unique tool list for a trace.
func (c *UsedToolsCache) Put(traceID string, tools []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[traceID]; ok {
		el.Value.(*usedToolsEntry).tools = tools
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&usedToolsEntry{traceID: traceID, tools: tools})
	c.items[traceID] = el
	if c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*usedToolsEntry).traceID)
	}
}

// Get returns the used tools for a trace, refreshing its recency.
func (c *UsedToolsCache) Get(traceID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[traceID]
	if !ok {
		return nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*usedToolsEntry).tools
}

// Len returns the number of cached traces.
func (c *UsedToolsCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
