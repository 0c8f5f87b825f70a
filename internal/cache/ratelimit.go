package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateLimitIPPrefix is the Redis key prefix for IP rate limits.
const rateLimitIPPrefix = "ratelimit:ip:"

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Count      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// fixedWindowScript counts requests in a fixed window.
// The window starts with the first request and the key expires with it.
// Once the count reaches the limit it is no longer incremented; the reply
// reports limit+1 so the caller sees the rejection.
var fixedWindowScript = redis.NewScript(`
	local limit = tonumber(ARGV[2])
	local current = tonumber(redis.call('GET', KEYS[1]) or '0')
	if current < limit then
		current = redis.call('INCR', KEYS[1])
		if current == 1 then
			redis.call('EXPIRE', KEYS[1], ARGV[1])
		end
	else
		current = limit + 1
	end
	local ttl = redis.call('TTL', KEYS[1])
	if ttl < 0 then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return {current, ttl}
`)

// CheckIPRateLimit counts a request from ip and reports whether it is within
// max requests per window. IP is hashed to avoid storing raw IP addresses.
func (c *Cache) CheckIPRateLimit(ctx context.Context, ip string, max int, window time.Duration) (*RateLimitResult, error) {
	key := rateLimitIPPrefix + hashIP(ip)
	windowSec := int64(window / time.Second)
	if windowSec < 1 {
		windowSec = 1
	}

	result, err := fixedWindowScript.Run(ctx, c.client, []string{key}, windowSec, max).Int64Slice()
	if err != nil {
		// Fail open on Redis errors - allow the request
		return &RateLimitResult{
			Allowed:   true,
			Remaining: int64(max),
			ResetAt:   time.Now().Add(window),
		}, err
	}

	count, ttl := result[0], result[1]
	res := &RateLimitResult{
		Allowed:   count <= int64(max),
		Count:     count,
		Remaining: int64(max) - count,
		ResetAt:   time.Now().Add(time.Duration(ttl) * time.Second),
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = time.Duration(ttl) * time.Second
	}

	return res, nil
}

// hashIP creates a truncated SHA256 hash of an IP address.
// This provides privacy while maintaining uniqueness.
func hashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(hash[:8]) // 16 hex chars
}
