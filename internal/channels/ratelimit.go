package channels

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket guarding outbound transport calls. It
// allows bursts up to capacity and refills at rate tokens per second.
type RateLimiter struct {
	rate       float64
	capacity   int
	tokens     float64
	lastRefill time.Time
	now        func() time.Time

	mu sync.Mutex
}

// NewRateLimiter creates a full bucket. A non-positive rate disables
// limiting.
func NewRateLimiter(rate float64, capacity int) *RateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	return &RateLimiter{
		rate:       rate,
		capacity:   capacity,
		tokens:     float64(capacity),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait := r.reserve()
		if wait == 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Allow consumes a token if one is available.
func (r *RateLimiter) Allow() bool {
	return r.reserve() == 0
}

// Tokens returns the number of available tokens.
func (r *RateLimiter) Tokens() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

// reserve takes a token and returns 0, or returns how long until one is
// available without taking it.
func (r *RateLimiter) reserve() time.Duration {
	if r == nil || r.rate <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return 0
	}
	wait := time.Duration((1 - r.tokens) / r.rate * float64(time.Second))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// refill must be called with mu held.
func (r *RateLimiter) refill() {
	now := r.now()
	r.tokens += now.Sub(r.lastRefill).Seconds() * r.rate
	if r.tokens > float64(r.capacity) {
		r.tokens = float64(r.capacity)
	}
	r.lastRefill = now
}
