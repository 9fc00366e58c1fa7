package scorer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// retryPolicy bounds the re-attempts made when the completion API fails
// transiently. Rate limits are the common case when many pairs are
// scored at once.
type retryPolicy struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxRetries:   3,
		initialDelay: 500 * time.Millisecond,
		maxDelay:     8 * time.Second,
		multiplier:   2,
	}
}

// do runs fn until it succeeds, fails permanently, or the attempts are
// exhausted. Waits between attempts grow exponentially up to maxDelay.
func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.delay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !retryableAPIError(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("gave up after %d retries: %w", p.maxRetries, lastErr)
}

func (p retryPolicy) delay(attempt int) time.Duration {
	d := float64(p.initialDelay) * math.Pow(p.multiplier, float64(attempt-1))
	if d > float64(p.maxDelay) {
		d = float64(p.maxDelay)
	}
	return time.Duration(d)
}

// retryableAPIError reports whether a completion failure is worth
// re-attempting: rate limits, server-side errors and transport hiccups.
// Anything else, bad requests included, fails immediately.
func retryableAPIError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout",
		"connection reset",
		"connection refused",
		"temporary failure",
		"rate limit",
		"too many requests",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}
