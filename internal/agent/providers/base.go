package providers

import (
	"context"
	"time"

	"github.com/haasonsaas/teller/internal/backoff"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 500 * time.Millisecond
)

// BaseProvider holds the retry policy shared by all providers. A request is
// attempted at most maxRetries times with jittered exponential backoff
// starting at retryDelay.
type BaseProvider struct {
	name       string
	maxRetries int
	policy     backoff.Policy
}

// NewBaseProvider creates a base provider, substituting defaults for
// non-positive values.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	policy := backoff.DefaultPolicy()
	policy.Initial = retryDelay
	if policy.Max < retryDelay {
		policy.Max = retryDelay
	}
	return BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		policy:     policy,
	}
}

// Name returns the provider identifier.
func (b *BaseProvider) Name() string {
	return b.name
}

// Retry runs op until it succeeds, fails with an error isRetryable rejects,
// or the attempts run out.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	return backoff.Retry(ctx, b.policy, b.maxRetries, isRetryable, func(int) error {
		return op()
	})
}
