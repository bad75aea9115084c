package upstream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryPolicy controls how retriable upstream failures are retried. It is configured once
// at startup and shared read-only by every call.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int
	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps every delay.
	MaxDelay time.Duration
	// BackoffFactor multiplies the delay after every attempt.
	BackoffFactor float64
}

// DefaultRetryPolicy returns the policy used when nothing is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
	}
}

// Validate reports whether the policy is usable.
func (p RetryPolicy) Validate() error {
	var errs []error
	if p.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts))
	}
	if p.InitialDelay < 0 {
		errs = append(errs, fmt.Errorf("initial delay must not be negative, got %s", p.InitialDelay))
	}
	if p.MaxDelay < p.InitialDelay {
		errs = append(errs, fmt.Errorf("max delay %s must not be less than initial delay %s", p.MaxDelay, p.InitialDelay))
	}
	if p.BackoffFactor < 1 || math.IsNaN(p.BackoffFactor) || math.IsInf(p.BackoffFactor, 0) {
		errs = append(errs, fmt.Errorf("backoff factor must be a finite number of at least 1, got %v", p.BackoffFactor))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid retry policy: %w", errors.Join(errs...))
	}
	return nil
}

// Delay returns the delay to wait after the given failed attempt (1-based) before the next one:
// min(InitialDelay * BackoffFactor^(attempt-1), MaxDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Budget returns the longest time a call may take under this policy when every attempt
// is bounded by attemptTimeout: all the delays plus every attempt.
func (p RetryPolicy) Budget(attemptTimeout time.Duration) time.Duration {
	total := time.Duration(p.MaxAttempts) * attemptTimeout
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		total += p.Delay(attempt)
	}
	return total
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
