package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy defines exponential backoff behavior
type Policy struct {
	MaxAttempts  int           // Maximum number of retries; 0 retries until the context ends
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Upper bound for any single delay
	Multiplier   float64       // Growth factor between consecutive delays
	Jitter       bool          // Spread delays by up to 10% in either direction

	// OnRetry, when set, is called before each wait
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns the policy used for background connection creation
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Permanent marks an error that must not be retried
type Permanent struct {
	Err error
}

func (e Permanent) Error() string {
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e Permanent) Unwrap() error {
	return e.Err
}

// Retry runs operation until it succeeds, returns a Permanent error, the
// attempts are exhausted or ctx ends. The returned error wraps the last
// operation error, or the context error if ctx ended first.
func Retry(ctx context.Context, policy Policy, operation func() error) error {
	var lastErr error

	for attempt := 0; policy.MaxAttempts <= 0 || attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("retry cancelled: %w (last error: %v)", err, lastErr)
			}
			return fmt.Errorf("retry cancelled: %w", err)
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		var perm Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}

		if policy.MaxAttempts > 0 && attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Delay(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during delay: %w (last error: %v)", ctx.Err(), lastErr)
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", policy.MaxAttempts+1, lastErr)
}

// Delay returns the wait before retry number attempt+1
func (p Policy) Delay(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 1.0
	}

	delay := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt))
	if delay < 0 || math.IsNaN(delay) {
		delay = 0
	}
	if p.MaxDelay > 0 && (delay > float64(p.MaxDelay) || math.IsInf(delay, 1)) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter {
		jitter := delay * 0.1
		delay += (rand.Float64() * 2 * jitter) - jitter
	}
	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}
