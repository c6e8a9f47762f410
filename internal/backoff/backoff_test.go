package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTemporary = errors.New("temporary error")

func TestComputeWithRand(t *testing.T) {
	policy := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}

	tests := []struct {
		name    string
		attempt int
		random  float64
		want    time.Duration
	}{
		{"first attempt no jitter", 1, 0, 100 * time.Millisecond},
		{"second attempt", 2, 0, 200 * time.Millisecond},
		{"third attempt full jitter", 3, 1, 600 * time.Millisecond},
		{"clamped to max", 10, 0, time.Second},
		{"zero attempt treated as first", 0, 0, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeWithRand(policy, tt.attempt, tt.random); got != tt.want {
				t.Errorf("ComputeWithRand(%d, %v) = %v, want %v", tt.attempt, tt.random, got, tt.want)
			}
		})
	}
}

func TestCompute_StaysInBounds(t *testing.T) {
	policy := DefaultPolicy()
	for attempt := 1; attempt <= 8; attempt++ {
		got := Compute(policy, attempt)
		if got < policy.Initial || got > policy.Max {
			t.Errorf("Compute(%d) = %v, outside [%v, %v]", attempt, got, policy.Initial, policy.Max)
		}
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := Sleep(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() ignored cancellation")
	}
}

func TestRetry(t *testing.T) {
	fast := Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}
	always := func(error) bool { return true }
	never := func(error) bool { return false }

	tests := []struct {
		name         string
		maxAttempts  int
		retryable    func(error) bool
		failures     int
		wantErr      bool
		wantAttempts int
	}{
		{"succeeds first attempt", 3, always, 0, false, 1},
		{"succeeds after retries", 5, always, 2, false, 3},
		{"exhausts attempts", 3, always, 10, true, 3},
		{"non-retryable stops", 5, never, 10, true, 1},
		{"nil classifier stops", 5, nil, 10, true, 1},
		{"zero attempts runs once", 0, always, 10, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Retry(context.Background(), fast, tt.maxAttempts, tt.retryable, func(attempt int) error {
				attempts++
				if attempt != attempts {
					t.Errorf("attempt = %d, want %d", attempt, attempts)
				}
				if attempts <= tt.failures {
					return errTemporary
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Retry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errTemporary) {
				t.Errorf("Retry() error = %v, want last error", err)
			}
			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
		})
	}
}

func TestRetry_ContextCancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{Initial: time.Minute, Max: time.Minute, Factor: 1}

	attempts := 0
	err := Retry(ctx, policy, 3, func(error) bool { return true }, func(int) error {
		attempts++
		cancel()
		return errTemporary
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
