package cache

import (
	"context"
	"fmt"
	"time"
)

// dedupePrefix is the Redis key prefix for processed-once markers.
const dedupePrefix = "dedupe:"

// MarkOnce records key for ttl and reports whether this call was the first.
func (c *Cache) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, dedupePrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx dedupe: %w", err)
	}
	return ok, nil
}

// ForgetOnce removes a marker so the work can be attempted again.
func (c *Cache) ForgetOnce(ctx context.Context, key string) error {
	return c.client.Del(ctx, dedupePrefix+key).Err()
}
