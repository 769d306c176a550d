// Package ratelimit provides a fixed-window limiter backed by Redis. Counts
// are shared across instances; the INCR/EXPIRE pair keeps each window
// self-cleaning.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts attempts per key within a fixed window.
type Limiter struct {
	client *redis.Client
	prefix string
	max    int64
	window time.Duration
}

// NewLimiter builds a limiter allowing max attempts per window under the
// given key prefix.
func NewLimiter(client *redis.Client, prefix string, max int, window time.Duration) *Limiter {
	return &Limiter{client: client, prefix: prefix, max: int64(max), window: window}
}

// Allow records one attempt for key and reports whether it is within the
// limit. The first attempt in a window sets the expiry; the window never
// slides.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + ":" + key
	n, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if n == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	return n <= l.max, nil
}

// Remaining returns how many attempts are left in the current window.
func (l *Limiter) Remaining(ctx context.Context, key string) (int64, error) {
	n, err := l.client.Get(ctx, l.prefix+":"+key).Int64()
	if err == redis.Nil {
		return l.max, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate limit get: %w", err)
	}
	if n >= l.max {
		return 0, nil
	}
	return l.max - n, nil
}

// Reset clears the window for key, used after a successful login.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+":"+key).Err(); err != nil {
		return fmt.Errorf("rate limit reset: %w", err)
	}
	return nil
}
