package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorReason categorizes why a provider request failed.
type ErrorReason string

const (
	ReasonBilling          ErrorReason = "billing"
	ReasonRateLimit        ErrorReason = "rate_limit"
	ReasonAuth             ErrorReason = "auth"
	ReasonTimeout          ErrorReason = "timeout"
	ReasonServerError      ErrorReason = "server_error"
	ReasonInvalidRequest   ErrorReason = "invalid_request"
	ReasonModelUnavailable ErrorReason = "model_unavailable"
	ReasonContentFilter    ErrorReason = "content_filter"
	ReasonCancelled        ErrorReason = "cancelled"
	ReasonUnknown          ErrorReason = "unknown"
)

// IsRetryable reports whether another attempt may succeed.
func (r ErrorReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a classified failure from an LLM backend.
type ProviderError struct {
	Reason    ErrorReason
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.RequestID != "" {
		parts = append(parts, "request_id="+e.RequestID)
	}
	switch {
	case e.Message != "":
		parts = append(parts, e.Message)
	case e.Cause != nil:
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError classifies cause and wraps it.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus records the HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatusCode(status); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithCode records a provider error code and reclassifies when the code is known.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyErrorCode(code); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

var reasonPatterns = []struct {
	reason   ErrorReason
	patterns []string
}{
	{ReasonTimeout, []string{"timeout", "deadline exceeded", "etimedout"}},
	{ReasonRateLimit, []string{"rate limit", "rate_limit", "too many requests", "429"}},
	{ReasonAuth, []string{"unauthorized", "invalid api key", "invalid_api_key", "authentication", "401", "403"}},
	{ReasonBilling, []string{"billing", "payment", "quota", "insufficient", "402"}},
	{ReasonContentFilter, []string{"content_filter", "content policy", "safety", "blocked"}},
	{ReasonModelUnavailable, []string{"model not found", "model_not_found", "does not exist", "unavailable"}},
	{ReasonServerError, []string{
		"internal server", "server error", "bad gateway", "connection reset", "connection refused",
		"500", "502", "503", "504",
	}},
}

// ClassifyError maps an arbitrary error to an ErrorReason.
func ClassifyError(err error) ErrorReason {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, group := range reasonPatterns {
		for _, pattern := range group.patterns {
			if strings.Contains(msg, pattern) {
				return group.reason
			}
		}
	}
	return ReasonUnknown
}

func classifyStatusCode(status int) ErrorReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyErrorCode(code string) ErrorReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return ReasonRateLimit
	case "authentication_error", "permission_error", "invalid_api_key":
		return ReasonAuth
	case "billing_error", "insufficient_quota":
		return ReasonBilling
	case "model_not_found", "not_found_error":
		return ReasonModelUnavailable
	case "content_policy_violation", "content_filter":
		return ReasonContentFilter
	case "server_error", "api_error", "overloaded_error":
		return ReasonServerError
	case "invalid_request_error":
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}
