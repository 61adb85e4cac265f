// Package cache provides a small cache abstraction with local and
// Redis-backed implementations. The routing core uses it for remote
// tool catalogs, which are expensive to fetch and safe to serve stale
// for a bounded TTL.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// Cache defines the interface for cache operations
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// LocalCache wraps patrickmn/go-cache for in-memory caching
type LocalCache struct {
	cache *gocache.Cache
}

// NewLocalCache creates a new local cache instance
func NewLocalCache(defaultTTL, cleanupInterval time.Duration) *LocalCache {
	return &LocalCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a value from the local cache
func (l *LocalCache) Get(ctx context.Context, key string) (interface{}, bool) {
	return l.cache.Get(key)
}

// Set stores a value in the local cache
func (l *LocalCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	l.cache.Set(key, value, ttl)
	return nil
}

// Delete removes a value from the local cache
func (l *LocalCache) Delete(ctx context.Context, key string) error {
	l.cache.Delete(key)
	return nil
}

// Clear removes all items from the local cache
func (l *LocalCache) Clear(ctx context.Context) error {
	l.cache.Flush()
	return nil
}

// RedisCache wraps go-redis for shared caching across instances
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Get retrieves a value from Redis
func (r *RedisCache) Get(ctx context.Context, key string) (interface{}, bool) {
	val, err := r.client.Get(ctx, r.keyPrefix+key).Result()
	if err != nil {
		return nil, false
	}

	var result interface{}
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		// Not JSON, return the raw string
		return val, true
	}
	return result, true
}

// Set stores a value in Redis
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, r.keyPrefix+key, data, ttl).Err()
}

// Delete removes a value from Redis
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key).Err()
}

// Clear removes all items with the key prefix from Redis
func (r *RedisCache) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
