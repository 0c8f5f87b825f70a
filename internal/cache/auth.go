package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/salesboost/exitintent/internal/model"
)

const (
	// authCachePrefix is the Redis key prefix for auth context cache.
	authCachePrefix = "auth:ctx:"
	// authCacheTTL is the time-to-live for cached auth contexts.
	authCacheTTL = 5 * time.Minute
)

// CachedAuthContext represents auth context stored in Redis.
type CachedAuthContext struct {
	KeyID     string   `json:"key_id"`
	KeyPrefix string   `json:"key_prefix"`
	Name      string   `json:"name"`
	Scopes    []string `json:"scopes"`
}

// GetAuthContext retrieves a cached auth context by cache key.
// Returns nil if not found (cache miss).
func (c *Cache) GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error) {
	data, err := c.client.Get(ctx, authCachePrefix+cacheKey).Bytes()
	if err != nil {
		// Cache miss is not an error
		return nil, nil //nolint:nilerr
	}

	var cached CachedAuthContext
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corrupted cache entry - treat as miss
		return nil, nil //nolint:nilerr
	}

	return &model.AuthContext{
		KeyID:     cached.KeyID,
		KeyPrefix: cached.KeyPrefix,
		Name:      cached.Name,
		Scopes:    cached.Scopes,
	}, nil
}

// SetAuthContext caches an auth context.
func (c *Cache) SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error {
	cached := CachedAuthContext{
		KeyID:     auth.KeyID,
		KeyPrefix: auth.KeyPrefix,
		Name:      auth.Name,
		Scopes:    auth.Scopes,
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal auth context: %w", err)
	}

	return c.client.Set(ctx, authCachePrefix+cacheKey, data, authCacheTTL).Err()
}

// DeleteAuthContext removes a cached auth context.
// Used when a key is revoked.
func (c *Cache) DeleteAuthContext(ctx context.Context, cacheKey string) error {
	return c.client.Del(ctx, authCachePrefix+cacheKey).Err()
}
