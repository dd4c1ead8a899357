package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter is a fixed-window counter used to cap how fast a single
// producer can enqueue jobs.
type RateLimiter struct {
	client    RedisClient
	namespace string
}

func NewRateLimiter(client RedisClient, namespace string) *RateLimiter {
	if namespace == "" {
		namespace = "dispatch"
	}
	return &RateLimiter{client: client, namespace: namespace}
}

// Allow increments the caller's counter and reports whether it is still
// within limit for the current window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}

	if count == 1 {
		if err := r.client.Expire(ctx, key, window); err != nil {
			return false, err
		}
	}

	return count <= int64(limit), nil
}

// EnqueueKey scopes the counter to one producer.
func (r *RateLimiter) EnqueueKey(userID string) string {
	return fmt.Sprintf("%s:ratelimit:enqueue:%s", r.namespace, userID)
}
