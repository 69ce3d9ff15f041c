package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stratoquery/oracle/internal/domain"
)

// redisCache is the shared cache backend. Several oracle instances pointed at
// the same Redis see each other's entries; expiry is enforced by both the
// server TTL and the stored timestamp so a tighter caller maxAge still holds.
type redisCache struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	opTimeout time.Duration
	log       zerolog.Logger
	now       func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type redisEntry struct {
	Response domain.Response `json:"response"`
	StoredAt time.Time       `json:"stored_at"`
}

// NewRedisCache builds a provider cache on an existing Redis client. Keys are
// namespaced per provider under oracle:cache:<provider>:.
func NewRedisCache(client *redis.Client, providerName string, ttl time.Duration, log zerolog.Logger) Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &redisCache{
		client:    client,
		prefix:    fmt.Sprintf("oracle:cache:%s:", providerName),
		ttl:       ttl,
		opTimeout: 500 * time.Millisecond,
		log:       log.With().Str("cache", "redis").Str("provider", providerName).Logger(),
		now:       time.Now,
	}
}

func (c *redisCache) Get(key string, maxAge time.Duration) (*domain.Response, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()

	payload, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Debug().Err(err).Msg("redis get failed")
		}
		c.misses.Add(1)
		return nil, false
	}

	var entry redisEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		c.log.Debug().Err(err).Msg("dropping undecodable cache entry")
		c.misses.Add(1)
		return nil, false
	}

	age := c.now().Sub(entry.StoredAt)
	if age > c.ttl || (maxAge > 0 && age > maxAge) {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	resp := entry.Response
	if resp.Metadata == nil {
		resp.Metadata = make(map[string]interface{}, 1)
	}
	resp.Metadata["cached"] = true
	return &resp, true
}

func (c *redisCache) Set(key string, resp *domain.Response) {
	if resp == nil {
		return
	}

	payload, err := json.Marshal(redisEntry{Response: *resp, StoredAt: c.now()})
	if err != nil {
		c.log.Debug().Err(err).Msg("cache entry not serializable")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()

	if err := c.client.Set(ctx, c.prefix+key, payload, c.ttl).Err(); err != nil {
		c.log.Debug().Err(err).Msg("redis set failed")
	}
}

func (c *redisCache) Len() int {
	keys := c.scanKeys()
	return len(keys)
}

func (c *redisCache) Purge() {
	keys := c.scanKeys()
	if len(keys) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Debug().Err(err).Msg("redis purge failed")
	}
}

func (c *redisCache) Stats() CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
		EntryCount: c.Len(),
		TTL:        c.ttl,
	}
}

func (c *redisCache) scanKeys() []string {
	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()

	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 100).Result()
		if err != nil {
			c.log.Debug().Err(err).Msg("redis scan failed")
			return keys
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys
		}
		cursor = next
	}
}
