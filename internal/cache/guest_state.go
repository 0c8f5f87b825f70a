package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/salesboost/exitintent/internal/model"
)

// guestStatePrefix is the Redis key prefix for guest visitor state.
const guestStatePrefix = "exit_intent:guest:"

// guestStateKey hashes the token so raw cookie values never appear in Redis.
func guestStateKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return guestStatePrefix + hex.EncodeToString(sum[:])
}

// GetGuestState returns the stored state for a guest token.
// Returns ErrCacheMiss if none is stored.
func (c *Cache) GetGuestState(ctx context.Context, token string) (*model.VisitorState, error) {
	data, err := c.client.Get(ctx, guestStateKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get guest state: %w", err)
	}

	var state model.VisitorState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode guest state: %w", err)
	}
	return &state, nil
}

// SetGuestState stores guest state with the given lifetime.
func (c *Cache) SetGuestState(ctx context.Context, token string, state *model.VisitorState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode guest state: %w", err)
	}
	if err := c.client.Set(ctx, guestStateKey(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set guest state: %w", err)
	}
	return nil
}

// UpdateGuestState overwrites guest state and keeps the entry's remaining
// lifetime. A missing entry is created with ttl.
func (c *Cache) UpdateGuestState(ctx context.Context, token string, state *model.VisitorState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode guest state: %w", err)
	}

	key := guestStateKey(token)
	err = c.client.SetArgs(ctx, key, data, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		err = c.client.Set(ctx, key, data, ttl).Err()
	}
	if err != nil {
		return fmt.Errorf("redis update guest state: %w", err)
	}
	return nil
}

// DeleteGuestState removes guest state. Deleting a missing key is not an error.
func (c *Cache) DeleteGuestState(ctx context.Context, token string) error {
	if err := c.client.Del(ctx, guestStateKey(token)).Err(); err != nil {
		return fmt.Errorf("redis del guest state: %w", err)
	}
	return nil
}
