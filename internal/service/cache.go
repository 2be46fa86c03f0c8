package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// QueryCache memoizes read-query results in Redis. Cache failures are never
// surfaced to callers; a broken cache degrades to a miss.
type QueryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewQueryCache wraps a Redis client with a default TTL.
func NewQueryCache(client *redis.Client, ttl time.Duration) *QueryCache {
	return &QueryCache{client: client, ttl: ttl}
}

// CacheKey derives a stable key from the compiled statement and its
// arguments.
func CacheKey(resource, sql string, args []any) string {
	h := sha256.New()
	h.Write([]byte(sql))
	for _, arg := range args {
		fmt.Fprintf(h, "|%v", arg)
	}
	return "crudkit:query:" + resource + ":" + hex.EncodeToString(h.Sum(nil))
}

// Get loads a cached result into out. Returns false on miss or any cache
// error.
func (c *QueryCache) Get(ctx context.Context, key string, out any) bool {
	if c == nil || c.client == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("Query cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Query cache entry is corrupt")
		return false
	}
	return true
}

// Set stores a result under the key. A non-positive ttl falls back to the
// cache default.
func (c *QueryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	raw, err := json.Marshal(value)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Query cache encode failed")
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Query cache write failed")
	}
}
