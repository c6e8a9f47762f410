// Package backoff computes jittered exponential delays and retries
// operations that fail transiently.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps any single delay.
	Max time.Duration
	// Factor is the exponential factor applied to each attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) added on top of the base delay.
	Jitter float64
}

// DefaultPolicy returns the policy used for provider requests.
// Initial: 500ms, Max: 10s, Factor: 2, Jitter: 10%
func DefaultPolicy() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     10 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Compute returns the delay after the given attempt. Attempt numbers start at 1.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand is Compute with a caller-supplied random value in [0, 1).
//
// The delay is min(Max, Initial*Factor^(attempt-1) * (1 + Jitter*random)).
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	factor := policy.Factor
	if factor < 1 {
		factor = 1
	}

	base := float64(policy.Initial) * math.Pow(factor, exp)
	total := base + base*policy.Jitter*randomValue
	if policy.Max > 0 {
		total = math.Min(float64(policy.Max), total)
	}
	return time.Duration(math.Round(total))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Retry calls fn up to maxAttempts times, sleeping between attempts per
// policy. It stops early when fn succeeds, when retryable reports false for
// its error, or when ctx ends. The last error from fn is returned; a
// cancelled context returns ctx.Err().
func Retry(ctx context.Context, policy Policy, maxAttempts int, retryable func(error) bool, fn func(attempt int) error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if retryable == nil || !retryable(lastErr) || attempt == maxAttempts {
			return lastErr
		}
		if err := Sleep(ctx, Compute(policy, attempt)); err != nil {
			return err
		}
	}
	return lastErr
}
