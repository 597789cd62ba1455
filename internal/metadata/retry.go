package metadata

import (
	"context"
	"strings"
	"time"
)

// retryWithBackoff translates the original project's
// retry_with_exponential_backoff(max_retries=5, base_delay=1,
// max_delay=32): it retries fn when the error looks like a rate-limit
// response, doubling the delay each time up to the cap.
func retryWithBackoff(ctx context.Context, maxRetries int, baseDelay, maxDelay time.Duration, fn func() (string, error)) (string, error) {
	delay := baseDelay
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRateLimitError(err) || attempt == maxRetries {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return "", lastErr
}

func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "too many requests")
}
