package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/salesboost/exitintent/internal/model"
)

// settingsPrefix is the Redis key prefix for cached feature settings.
const settingsPrefix = "settings:"

// GetSettings returns cached settings for a feature or ErrCacheMiss.
func (c *Cache) GetSettings(ctx context.Context, feature string) (*model.Settings, error) {
	data, err := c.client.Get(ctx, settingsPrefix+feature).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get settings: %w", err)
	}

	var s model.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		// Corrupted cache entry - treat as miss
		return nil, ErrCacheMiss
	}
	return &s, nil
}

// SetSettings caches settings for ttl.
func (c *Cache) SetSettings(ctx context.Context, feature string, s *model.Settings, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return c.client.Set(ctx, settingsPrefix+feature, data, ttl).Err()
}

// DeleteSettings drops cached settings after an update.
func (c *Cache) DeleteSettings(ctx context.Context, feature string) error {
	return c.client.Del(ctx, settingsPrefix+feature).Err()
}
