package orchestrator

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// cachedBufferRepo wraps a Repository and caches GetDownloadBufferCount
// in Redis for a short TTL, so a fleet of orchestrator replicas polling
// the same database doesn't hammer it with the same count query on
// every loop tick. Grounded on the teacher's internal/queue.Queue key
// namespacing (a prefixed string key, TTL-bounded).
type cachedBufferRepo struct {
	Repository
	client *redis.Client
	ttl    time.Duration
}

// WithBufferCountCache wraps repo so GetDownloadBufferCount is served
// from Redis when a fresh cached value exists, falling back to repo on
// a cache miss or Redis error.
func WithBufferCountCache(repo Repository, client *redis.Client, ttl time.Duration) Repository {
	return &cachedBufferRepo{Repository: repo, client: client, ttl: ttl}
}

const bufferCountKey = "podpipe:orchestrator:download-buffer-count"

func (c *cachedBufferRepo) GetDownloadBufferCount(ctx context.Context) (int, error) {
	if cached, err := c.client.Get(ctx, bufferCountKey).Result(); err == nil {
		if n, err := strconv.Atoi(cached); err == nil {
			return n, nil
		}
	}

	n, err := c.Repository.GetDownloadBufferCount(ctx)
	if err != nil {
		return 0, err
	}
	c.client.Set(ctx, bufferCountKey, n, c.ttl)
	return n, nil
}
