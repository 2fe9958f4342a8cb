package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "recall:results:"

// RedisCache is a ResultCache backed by Redis, for deployments where
// several service instances should share one staleness window. Values
// are JSON-encoded result sets; a per-owner key set supports
// InvalidateOwner without a keyspace scan. All failures degrade to a
// cache miss.
type RedisCache struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(redisURL string, logger *zap.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{rdb: rdb, logger: logger}, nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

func (c *RedisCache) resultKey(key CacheKey) string {
	return redisKeyPrefix + key.String()
}

func (c *RedisCache) ownerSetKey(ownerID string) string {
	return redisKeyPrefix + "owners:" + ownerID
}

// Get returns the cached result set, if present and fresh.
func (c *RedisCache) Get(ctx context.Context, key CacheKey) ([]*Entry, bool) {
	data, err := c.rdb.Get(ctx, c.resultKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("redis cache get failed", zap.String("key", key.String()), zap.Error(err))
		}
		return nil, false
	}
	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Warn("redis cache payload undecodable", zap.String("key", key.String()), zap.Error(err))
		return nil, false
	}
	return entries, true
}

// Set stores the result set for one TTL and records the key in the
// owner's key set so invalidation can find it.
func (c *RedisCache) Set(ctx context.Context, key CacheKey, entries []*Entry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	data, err := json.Marshal(entries)
	if err != nil {
		c.logger.Warn("redis cache encode failed", zap.Error(err))
		return
	}

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, c.resultKey(key), data, ttl)
	pipe.SAdd(ctx, c.ownerSetKey(key.OwnerID), c.resultKey(key))
	pipe.Expire(ctx, c.ownerSetKey(key.OwnerID), 2*ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("redis cache set failed", zap.String("key", key.String()), zap.Error(err))
	}
}

// InvalidateOwner drops every cached result for the owner.
func (c *RedisCache) InvalidateOwner(ctx context.Context, ownerID string) {
	setKey := c.ownerSetKey(ownerID)
	keys, err := c.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		c.logger.Warn("redis cache owner lookup failed", zap.String("owner", ownerID), zap.Error(err))
		return
	}
	keys = append(keys, setKey)
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("redis cache invalidation failed", zap.String("owner", ownerID), zap.Error(err))
	}
}
