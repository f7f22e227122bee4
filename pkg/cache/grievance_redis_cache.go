// Package cache provides the Redis-backed shared cache tier.
package cache

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const embeddingKeyPrefix = "grievance:emb:"

// RedisCache is a thin JSON cache over a Redis client.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// GetJSON decodes the value at key into dest. A missing key reports false
// with no error.
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// EmbeddingCache stores embedding vectors in Redis so every worker shares
// them.
type EmbeddingCache struct {
	redis *RedisCache
	ttl   time.Duration
}

func NewEmbeddingCache(client *redis.Client, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &EmbeddingCache{redis: NewRedisCache(client), ttl: ttl}
}

// Get treats Redis errors as misses.
func (c *EmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool) {
	var v []float32
	ok, err := c.redis.GetJSON(ctx, embeddingKeyPrefix+key, &v)
	if err != nil || !ok || len(v) == 0 {
		return nil, false
	}
	return v, true
}

func (c *EmbeddingCache) Set(ctx context.Context, key string, embedding []float32) error {
	return c.redis.SetJSON(ctx, embeddingKeyPrefix+key, embedding, c.ttl)
}
