package provider

import (
	"container/list"
	"sync"
	"time"

	"github.com/stratoquery/oracle/internal/domain"
)

// Cache stores recent responses per provider, keyed by (query, option
// fingerprint). Entries older than the TTL are never served.
type Cache interface {
	// Get returns a live entry. maxAge further restricts acceptable entry
	// age when positive; zero means the cache TTL alone decides.
	Get(key string, maxAge time.Duration) (*domain.Response, bool)
	Set(key string, resp *domain.Response)
	Len() int
	Purge()
	Stats() CacheStats
}

// CacheStats reports cache effectiveness
type CacheStats struct {
	Hits       int64         `json:"hits"`
	Misses     int64         `json:"misses"`
	HitRate    float64       `json:"hit_rate"`
	EntryCount int           `json:"entry_count"`
	Capacity   int           `json:"capacity"`
	TTL        time.Duration `json:"ttl"`
}

const (
	DefaultCacheCapacity = 100
	DefaultCacheTTL      = 60 * time.Second
)

// memoryCache is an in-process LRU with TTL. Least recently used entries are
// evicted once capacity is reached; expired entries are dropped lazily on
// access and on insert.
type memoryCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = most recently used

	hits   int64
	misses int64

	now func() time.Time
}

type memoryEntry struct {
	key      string
	resp     domain.Response
	storedAt time.Time
}

// NewMemoryCache builds the default per-provider cache
func NewMemoryCache(capacity int, ttl time.Duration) Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &memoryCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

func (c *memoryCache) Get(key string, maxAge time.Duration) (*domain.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := elem.Value.(*memoryEntry)
	age := c.now().Sub(entry.storedAt)
	if age > c.ttl || (maxAge > 0 && age > maxAge) {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return cloneResponse(entry.resp), true
}

func (c *memoryCache) Set(key string, resp *domain.Response) {
	if resp == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.resp = *resp
		entry.storedAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*memoryEntry).key)
	}

	c.entries[key] = c.order.PushFront(&memoryEntry{
		key:      key,
		resp:     *resp,
		storedAt: c.now(),
	})
}

func (c *memoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *memoryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

func (c *memoryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var hitRate float64
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Hits:       c.hits,
		Misses:     c.misses,
		HitRate:    hitRate,
		EntryCount: c.order.Len(),
		Capacity:   c.capacity,
		TTL:        c.ttl,
	}
}

// cloneResponse hands out an independent copy so callers can annotate
// metadata without racing other readers of the same entry
func cloneResponse(resp domain.Response) *domain.Response {
	out := resp
	out.Metadata = make(map[string]interface{}, len(resp.Metadata)+1)
	for k, v := range resp.Metadata {
		out.Metadata[k] = v
	}
	out.Metadata["cached"] = true
	return &out
}
