// Package retry provides the exponential-backoff-with-jitter loop used by
// the blob store client's uploads and downloads, generalized from the
// teacher's ad-hoc retry loop in
// internal/storage/storage.go.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"
)

// Policy configures the retry loop. Zero-value Policy is not usable;
// construct with DefaultPolicy or fill in explicitly.
type Policy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Label          string // used in log lines, e.g. "blobstore.Put"
}

// DefaultPolicy mirrors the teacher's storage.go constants.
func DefaultPolicy(label string) Policy {
	return Policy{
		MaxRetries: 4,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Label:      label,
	}
}

// IsRetryable classifies an error as worth another attempt. Callers pass a
// predicate since retryability is dependency-specific (HTTP status codes,
// redis.Nil, context deadline, etc).
type IsRetryable func(error) bool

// Do runs fn, retrying on errors that isRetryable accepts, with exponential
// backoff plus up-to-25% jitter between attempts. It gives up immediately on
// ctx cancellation or a non-retryable error.
func Do(ctx context.Context, p Policy, isRetryable IsRetryable, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(p, attempt)
			if p.Label != "" {
				log.Printf("[retry] %s: attempt %d/%d in %v (last error: %v)", p.Label, attempt, p.MaxRetries, delay, lastErr)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: cancelled during backoff: %w", p.Label, ctx.Err())
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if isRetryable != nil && !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", p.Label, p.MaxRetries+1, lastErr)
}

// backoff computes base * 2^(attempt-1), capped at MaxDelay, plus jitter.
func backoff(p Policy, attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}
