package embedding

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/osqr/memvault/internal/ports"
)

// Cache is a bounded LRU for embedding results, keyed by (text, model,
// dimensions). Re-embedding the same fact during synthesis and retrieval is
// common enough that this pays for itself quickly.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*list.Element
	order   *list.List
}

type cacheEntry struct {
	key    string
	result *ports.EmbeddingResult
}

// NewCache creates a cache holding at most maxSize entries.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Cache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func cacheKey(text, model string, dimensions int) string {
	return fmt.Sprintf("%s|%d|%s", model, dimensions, text)
}

// Get returns a cached result, marking it recently used.
func (c *Cache) Get(text, model string, dimensions int) (*ports.EmbeddingResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[cacheKey(text, model, dimensions)]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).result, true
}

// Put stores a result, evicting the least recently used entry when full.
func (c *Cache) Put(text, model string, dimensions int, result *ports.EmbeddingResult) {
	if result == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(text, model, dimensions)
	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*cacheEntry).result = result
		return
	}

	elem := c.order.PushFront(&cacheEntry{key: key, result: result})
	c.entries[key] = elem

	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
