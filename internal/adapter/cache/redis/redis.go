// Package redis provides the Redis-backed cache implementation used when the
// service runs with more than one instance, so cached ML results are visible
// across the fleet.
package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache implements domain.Cache on top of a Redis client. Per the cache
// contract, operations are total: Redis errors are logged and reported as
// misses rather than surfaced to callers.
type Cache struct {
	rdb    *redis.Client
	prefix string
}

// New constructs a Cache. The prefix namespaces this service's keys inside a
// shared Redis deployment.
func New(rdb *redis.Client, prefix string) *Cache {
	if prefix == "" {
		prefix = "lexatlas"
	}
	return &Cache{rdb: rdb, prefix: prefix}
}

func (c *Cache) key(namespace, key string) string {
	return c.prefix + ":" + namespace + ":" + key
}

// Get returns the value for (namespace, key), or ok=false on a miss.
func (c *Cache) Get(ctx context.Context, namespace, key string) ([]byte, bool) {
	b, err := c.rdb.Get(ctx, c.key(namespace, key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Error("redis cache get failed",
				slog.String("namespace", namespace),
				slog.String("key", key),
				slog.Any("error", err))
		}
		return nil, false
	}
	return b, true
}

// Set stores value under (namespace, key) with ttl. Redis handles expiry, so
// no sweep or eviction logic is needed on this side.
func (c *Cache) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) {
	if err := c.rdb.Set(ctx, c.key(namespace, key), value, ttl).Err(); err != nil {
		slog.Error("redis cache set failed",
			slog.String("namespace", namespace),
			slog.String("key", key),
			slog.Any("error", err))
	}
}

// Delete removes the entry for (namespace, key).
func (c *Cache) Delete(ctx context.Context, namespace, key string) {
	if err := c.rdb.Del(ctx, c.key(namespace, key)).Err(); err != nil {
		slog.Error("redis cache delete failed",
			slog.String("namespace", namespace),
			slog.String("key", key),
			slog.Any("error", err))
	}
}

// Ping reports Redis connectivity for readiness probes.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
