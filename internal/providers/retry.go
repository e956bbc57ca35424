package providers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// RetryConfig bounds transient-failure retries for one upstream call.
// Retries apply within a single candidate; the fallback chain is a
// separate mechanism that switches models, not attempts.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
	}
}

// RetryDo runs fn with exponential backoff on retryable errors
// (connection failures, 429, 5xx). A Retry-After hint from the
// upstream overrides the computed delay.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt >= cfg.MaxRetries || !retryable(err) {
			return zero, lastErr
		}

		delay := cfg.BaseDelay << attempt
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
			delay = httpErr.RetryAfter
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// retryable reports whether an error is worth retrying on the same
// candidate. Client errors other than 429 are not; the request would
// fail again identically.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == http.StatusTooManyRequests || httpErr.Status >= 500
	}
	// Transport-level failure (connection refused, reset, etc).
	return true
}

// ParseRetryAfter parses a Retry-After header value, either seconds or
// an HTTP date. Returns 0 when absent or unparseable.
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
