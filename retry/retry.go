// Package retry provides generic retry logic with exponential backoff for transient failures.
// It uses Go generics for type-safe retry operations and respects context cancellation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (including initial attempt)
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff
	Jitter       float64       // Width of the randomization window as a fraction of each delay (0 disables jitter)
}

// DefaultConfig provides sensible defaults for retry operations.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
	Jitter:       0.5,
}

// FacilitatorConfig tunes retries for facilitator verify and settle
// calls: transient failures back off from 1s up to 10s with jitter so a
// fleet of resource servers does not hammer a recovering facilitator in
// lockstep.
var FacilitatorConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 1 * time.Second,
	MaxDelay:     10 * time.Second,
	Multiplier:   2.0,
	Jitter:       0.5,
}

// IsRetryable determines if an error should trigger a retry.
type IsRetryable func(error) bool

// DelayHinter lets an error name its own retry delay, typically parsed
// from a Retry-After header. A positive hint replaces the computed
// backoff for the attempt that produced the error; the exponential
// schedule is unaffected for later attempts.
type DelayHinter interface {
	RetryDelayHint() time.Duration
}

// WithRetry executes a function with retry logic using generics for type safety.
// It applies exponential backoff with configurable parameters and respects context cancellation.
func WithRetry[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn func() (T, error),
) (T, error) {
	var zero T
	var lastErr error
	delay := config.InitialDelay

	if config.MaxAttempts < 1 {
		return zero, fmt.Errorf("retry: MaxAttempts must be at least 1, got %d", config.MaxAttempts)
	}

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		// Check context before attempt
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		// Check if error is retryable
		if !isRetryable(err) {
			return zero, err
		}

		// Don't sleep after last attempt
		if attempt < config.MaxAttempts-1 {
			wait := jittered(delay, config.Jitter, config.InitialDelay)
			var hinter DelayHinter
			if errors.As(err, &hinter) {
				if hint := hinter.RetryDelayHint(); hint > 0 {
					wait = hint
				}
			}

			// Apply exponential backoff
			select {
			case <-time.After(wait):
				delay = time.Duration(float64(delay) * config.Multiplier)
				if delay > config.MaxDelay {
					delay = config.MaxDelay
				}
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// jittered spreads a delay uniformly across [delay - span/2, delay + span/2]
// where span = delay * jitter.
func jittered(delay time.Duration, jitter float64, floor time.Duration) time.Duration {
	if jitter <= 0 {
		return delay
	}
	span := float64(delay) * jitter
	result := time.Duration(float64(delay) + rand.Float64()*span - span/2)
	if result <= 0 {
		result = floor
	}
	return result
}

// WithSimpleRetry uses default configuration for retry operations.
func WithSimpleRetry[T any](
	ctx context.Context,
	fn func() (T, error),
	isRetryable IsRetryable,
) (T, error) {
	return WithRetry(ctx, DefaultConfig, isRetryable, fn)
}
