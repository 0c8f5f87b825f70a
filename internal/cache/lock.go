package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// lockPrefix is the Redis key prefix for short-lived mutual exclusion locks.
const lockPrefix = "lock:"

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock held")

// releaseScript deletes the lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Lock is an acquired lock. Release it when done.
type Lock struct {
	c     *Cache
	key   string
	token string
}

// AcquireLock takes name for ttl, polling until wait elapses.
// Returns ErrLockHeld if the lock could not be taken in time.
func (c *Cache) AcquireLock(ctx context.Context, name string, ttl, wait time.Duration) (*Lock, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("lock token: %w", err)
	}
	l := &Lock{c: c, key: lockPrefix + name, token: hex.EncodeToString(buf)}

	deadline := time.Now().Add(wait)
	for {
		ok, err := c.client.SetNX(ctx, l.key, l.token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx lock: %w", err)
		}
		if ok {
			return l, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockHeld
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// Release frees the lock if it is still owned by this holder.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.c.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
