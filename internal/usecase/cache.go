package usecase

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const reportKeyPrefix = "evaluation:"

// Cache holds serialized evaluation reports keyed by run ID. Get returns
// redis.Nil when the report has expired or was never cached.
type Cache interface {
	Set(ctx context.Context, key, report string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache keeps reports in redis so GetReport can skip the database.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps client as a report cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Set(ctx context.Context, key, report string, ttl time.Duration) error {
	return c.client.Set(ctx, key, report, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func reportKey(runID string) string {
	return reportKeyPrefix + runID
}
