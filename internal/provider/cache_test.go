package provider

import (
	"testing"
	"time"

	"github.com/stratoquery/oracle/internal/domain"
)

func testResponse(source string, value float64) *domain.Response {
	return &domain.Response{
		Value:      domain.NumberValue(value),
		Confidence: 0.9,
		Source:     source,
		Timestamp:  time.Now().UTC(),
		LatencyMS:  12,
		Metadata:   map[string]interface{}{"query": "test"},
	}
}

func TestMemoryCache_BasicOperations(t *testing.T) {
	cache := NewMemoryCache(3, 100*time.Millisecond)

	cache.Set("key1", testResponse("a", 42000))

	resp, ok := cache.Get("key1", 0)
	if !ok {
		t.Fatal("expected cached response, got miss")
	}
	if n, _ := resp.Value.Number(); n != 42000 {
		t.Errorf("expected 42000, got %v", n)
	}
	if cached, _ := resp.Metadata["cached"].(bool); !cached {
		t.Error("expected served entry to be marked cached")
	}

	if _, ok := cache.Get("nonexistent", 0); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	now := time.Now()
	cache := NewMemoryCache(10, 60*time.Second).(*memoryCache)
	cache.now = func() time.Time { return now }

	cache.Set("key1", testResponse("a", 1))

	// inside TTL
	now = now.Add(59 * time.Second)
	if _, ok := cache.Get("key1", 0); !ok {
		t.Fatal("expected hit inside TTL")
	}

	// beyond TTL
	now = now.Add(2 * time.Second)
	if _, ok := cache.Get("key1", 0); ok {
		t.Error("expected miss beyond TTL")
	}
	if cache.Len() != 0 {
		t.Errorf("expected expired entry to be dropped, have %d entries", cache.Len())
	}
}

func TestMemoryCache_MaxAgeTighterThanTTL(t *testing.T) {
	now := time.Now()
	cache := NewMemoryCache(10, 60*time.Second).(*memoryCache)
	cache.now = func() time.Time { return now }

	cache.Set("key1", testResponse("a", 1))

	now = now.Add(10 * time.Second)
	if _, ok := cache.Get("key1", 30*time.Second); !ok {
		t.Fatal("expected hit inside caller maxAge")
	}
	if _, ok := cache.Get("key1", 5*time.Second); ok {
		t.Error("expected miss when entry is older than caller maxAge")
	}
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	cache := NewMemoryCache(2, time.Minute)

	cache.Set("key1", testResponse("a", 1))
	cache.Set("key2", testResponse("b", 2))

	// touch key1 so key2 becomes least recently used
	if _, ok := cache.Get("key1", 0); !ok {
		t.Fatal("expected key1 hit")
	}

	cache.Set("key3", testResponse("c", 3))

	if _, ok := cache.Get("key2", 0); ok {
		t.Error("expected key2 to be evicted as least recently used")
	}
	if _, ok := cache.Get("key1", 0); !ok {
		t.Error("expected key1 to survive eviction")
	}
	if _, ok := cache.Get("key3", 0); !ok {
		t.Error("expected key3 to be cached")
	}
}

func TestMemoryCache_CloneIsolation(t *testing.T) {
	cache := NewMemoryCache(10, time.Minute)
	cache.Set("key1", testResponse("a", 1))

	first, _ := cache.Get("key1", 0)
	first.Metadata["mutated"] = true

	second, _ := cache.Get("key1", 0)
	if _, leaked := second.Metadata["mutated"]; leaked {
		t.Error("metadata mutation leaked between cache readers")
	}
}

func TestMemoryCache_Stats(t *testing.T) {
	cache := NewMemoryCache(5, time.Minute)
	cache.Set("key1", testResponse("a", 1))

	cache.Get("key1", 0)
	cache.Get("key1", 0)
	cache.Get("missing", 0)

	stats := cache.Stats()
	if stats.Hits != 2 {
		t.Errorf("expected 2 hits, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
	if stats.EntryCount != 1 {
		t.Errorf("expected 1 entry, got %d", stats.EntryCount)
	}
	if stats.HitRate < 0.66 || stats.HitRate > 0.67 {
		t.Errorf("expected hit rate ~0.667, got %f", stats.HitRate)
	}
}
