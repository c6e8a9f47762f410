package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewBaseProvider_Defaults(t *testing.T) {
	base := NewBaseProvider("openai", 0, 0)
	if base.maxRetries != defaultMaxRetries {
		t.Errorf("maxRetries = %d, want %d", base.maxRetries, defaultMaxRetries)
	}
	if base.policy.Initial != defaultRetryDelay {
		t.Errorf("Initial = %v, want %v", base.policy.Initial, defaultRetryDelay)
	}
	if base.Name() != "openai" {
		t.Errorf("Name() = %q", base.Name())
	}

	slow := NewBaseProvider("x", 1, time.Minute)
	if slow.policy.Max < time.Minute {
		t.Errorf("Max = %v, want >= 1m", slow.policy.Max)
	}
}

func TestBaseProvider_Retry(t *testing.T) {
	base := NewBaseProvider("test", 3, time.Millisecond)
	transient := NewProviderError("test", "", errors.New("x")).WithStatus(503)
	permanent := NewProviderError("test", "", errors.New("x")).WithStatus(401)

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{"success", []error{nil}, 1, nil},
		{"transient then success", []error{transient, nil}, 2, nil},
		{"permanent stops", []error{permanent, nil}, 1, permanent},
		{"exhausted", []error{transient, transient, transient, nil}, 3, transient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := base.Retry(context.Background(), IsRetryable, func() error {
				err := tt.errs[calls]
				calls++
				return err
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if !errors.Is(err, tt.wantErr) && !(err == nil && tt.wantErr == nil) {
				t.Errorf("Retry() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := base.Retry(context.Background(), IsRetryable, nil); err != nil {
		t.Errorf("Retry(nil op) = %v", err)
	}
}
