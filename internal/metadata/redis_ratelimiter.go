package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is a fixed-window INCR+EXPIRE limiter shared across
// pipeline replicas, using the same Pipeline()-batched command idiom
// as the teacher's internal/queue.Queue.Enqueue. Unlike the in-process
// RateLimiter, its window resets on a wall-clock boundary rather than
// sliding, which is an acceptable approximation for a 60s AI-call
// budget.
type RedisRateLimiter struct {
	client      *redis.Client
	key         string
	maxRequests int
	window      time.Duration
}

// NewRedisRateLimiter builds a limiter keyed by key, allowing
// maxRequests calls per window across every process sharing client.
func NewRedisRateLimiter(client *redis.Client, key string, maxRequests int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, key: key, maxRequests: maxRequests, window: window}
}

// Wait blocks until a slot in the current window is available or ctx
// is canceled.
func (rl *RedisRateLimiter) Wait(ctx context.Context) error {
	for {
		count, ttl, err := rl.incr(ctx)
		if err != nil {
			return fmt.Errorf("metadata: redis rate limiter: %w", err)
		}
		if count <= int64(rl.maxRequests) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ttl):
		}
	}
}

// incr increments the window's counter and refreshes its expiry on
// every call (pipelined to avoid a lost-expire race between the two
// commands).
func (rl *RedisRateLimiter) incr(ctx context.Context) (int64, time.Duration, error) {
	windowKey := fmt.Sprintf("%s:%d", rl.key, time.Now().Unix()/int64(rl.window.Seconds()))

	pipe := rl.client.Pipeline()
	incrCmd := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	ttl, err := rl.client.TTL(ctx, windowKey).Result()
	if err != nil {
		return 0, 0, err
	}
	if ttl < 0 {
		ttl = rl.window
	}
	return incrCmd.Val(), ttl, nil
}
