package rateLimit

import (
	"context"
	"time"
)

// Counter counts hits per key within a fixed window.
type Counter interface {
	IncrWindow(ctx context.Context, key string, period time.Duration) (int64, error)
}

type RateLimiter struct {
	redis Counter
}

func NewRateLimiter(redis Counter) *RateLimiter {
	return &RateLimiter{redis: redis}
}

// Allow fails open when the counter backend is unreachable.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	n, err := rl.redis.IncrWindow(ctx, "rl:"+key, period)
	if err != nil {
		return true
	}
	return n <= int64(rate)
}
