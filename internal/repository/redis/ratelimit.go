package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "ratelimit:"

// RateLimiter enforces a fixed-window per-user request quota in Redis,
// so every gateway replica shares one view of the budget. Windows are
// aligned to wall-clock minutes; burst is extra headroom on top of the
// steady rate.
type RateLimiter struct {
	client *Client
	limit  int64
}

// NewRateLimiter builds a limiter allowing requestsPerMinute+burst
// requests per minute window
func NewRateLimiter(client *Client, requestsPerMinute, burst int) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  int64(requestsPerMinute + burst),
	}
}

// Allow consumes one request from the caller's window.
// Returns (allowed, remaining, resetTime, error).
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	fullKey := rateLimitPrefix + key
	resetAt := time.Now().Truncate(time.Minute).Add(time.Minute)

	// INCR and ExpireNX in one round trip. ExpireNX only arms the TTL
	// when the key is fresh, so the window never slides.
	pipe := r.client.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, time.Minute)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incrCmd.Val()
	remaining := int(r.limit - count)
	if remaining < 0 {
		remaining = 0
	}

	return count <= r.limit, remaining, resetAt, nil
}

// Reset clears the caller's window immediately
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.rdb.Del(ctx, rateLimitPrefix+key).Err()
}
