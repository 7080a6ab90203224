package cache

import (
	"context"
	"fmt"
	"time"

	redisWrapper "github.com/flamehq/flame-node-sdk/common/redis"
	"github.com/redis/go-redis/v9"
)

// RedisCache stores cached storage-GET results in Redis, for deployments
// that run more than one replica of the same node and want the cache
// benefit to be shared across them. Like MemoryCache it is read-through
// only: a miss or eviction here just means the storage client falls back
// to the object store.
type RedisCache struct {
	redis *redisWrapper.Client
}

// NewRedisCache creates a new Redis-backed cache (direct, no local buffering).
func NewRedisCache(redisClient *redis.Client, logger redisWrapper.Logger) *RedisCache {
	return &RedisCache{redis: redisWrapper.NewClient(redisClient, logger)}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.redis.Get(ctx, cacheKey(key))
	if err != nil {
		return nil, false, nil
	}
	return []byte(val), true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.redis.Set(ctx, cacheKey(key), string(value), ttl); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.redis.Delete(ctx, cacheKey(key))
}

func (c *RedisCache) Close() error {
	return nil
}

func cacheKey(key string) string {
	return "node-sdk:storage-cache:" + key
}
