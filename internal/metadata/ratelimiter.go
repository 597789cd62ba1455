package metadata

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a mutex-protected token bucket, translated from the
// original project's RateLimiter(max_requests, time_window) in
// metadata_extractor.py. Go's channel-based rate.Limiter would work
// equally well, but the original's sliding-window-of-timestamps
// algorithm is simple enough to keep faithfully rather than swap in a
// different shape.
type RateLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	timestamps  []time.Time
	now         func() time.Time
}

// NewRateLimiter builds a limiter allowing maxRequests calls per
// window. Spec §4.E default: 9 requests / 60 seconds.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{maxRequests: maxRequests, window: window, now: time.Now}
}

// Wait blocks until a request slot is available or ctx is canceled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait, ok := rl.reserve()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (rl *RateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	cutoff := now.Add(-rl.window)
	kept := rl.timestamps[:0]
	for _, t := range rl.timestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	rl.timestamps = kept
	if len(rl.timestamps) < rl.maxRequests {
		rl.timestamps = append(rl.timestamps, now)
		return 0, true
	}
	oldest := rl.timestamps[0]
	return oldest.Add(rl.window).Sub(now), false
}
