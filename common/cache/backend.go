package cache

import (
	"github.com/flamehq/flame-node-sdk/common/logger"
	"github.com/redis/go-redis/v9"
)

// Backend selects which Cache implementation backs the storage read-through
// cache.
//
//	CACHE_BACKEND=memory (default) -> MemoryCache, process-local
//	CACHE_BACKEND=redis            -> RedisCache, shared across replicas
//
// There is deliberately no "no caching" backend: spec.md only forbids the
// cache from being authoritative, not from existing at all.
func NewBackend(backend string, redisClient *redis.Client, log *logger.Logger) Cache {
	if backend == "redis" && redisClient != nil {
		log.Info("storage cache backend selected", "backend", "redis")
		return NewRedisCache(redisClient, log)
	}
	log.Info("storage cache backend selected", "backend", "memory")
	return NewMemoryCache(log)
}
