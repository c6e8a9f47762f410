// Package channels holds transport-neutral pieces shared by the chat
// front ends: error classification, message chunking, outbound rate
// limiting and rendering of turn results.
package channels

import (
	"errors"
	"fmt"
)

// ErrorCode classifies adapter failures.
type ErrorCode string

const (
	ErrCodeConfig         ErrorCode = "CONFIG_ERROR"
	ErrCodeAuthentication ErrorCode = "AUTH_ERROR"
	ErrCodeConnection     ErrorCode = "CONNECTION_ERROR"
	ErrCodeTimeout        ErrorCode = "TIMEOUT_ERROR"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// Error is an adapter failure tagged with a code. It never carries user
// text and is not shown to users.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// ErrConfig reports invalid adapter settings.
func ErrConfig(message string, err error) *Error {
	return newError(ErrCodeConfig, message, err)
}

// ErrAuthentication reports a rejected bot credential.
func ErrAuthentication(message string, err error) *Error {
	return newError(ErrCodeAuthentication, message, err)
}

// ErrConnection reports a failed call to the transport API.
func ErrConnection(message string, err error) *Error {
	return newError(ErrCodeConnection, message, err)
}

// ErrTimeout reports a deadline hit while starting or stopping.
func ErrTimeout(message string, err error) *Error {
	return newError(ErrCodeTimeout, message, err)
}

// GetErrorCode returns the code of the first Error in err's chain, or
// ErrCodeInternal.
func GetErrorCode(err error) ErrorCode {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.Code
	}
	return ErrCodeInternal
}
