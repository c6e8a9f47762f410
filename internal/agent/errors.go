package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/teller/internal/sessions"
)

// Protocol errors. These cross the RunTurn/ResumeTurn boundary as failures,
// distinct from a normal TurnResult; the caller decides what to tell the user.
var (
	// ErrNothingToResume is returned by ResumeTurn when the conversation has
	// no outstanding interrupt.
	ErrNothingToResume = errors.New("nothing to resume")

	// ErrInterruptPending is returned by RunTurn when the conversation is
	// paused on an approval, and by the store when a second interrupt would
	// overwrite the first.
	ErrInterruptPending = sessions.ErrInterruptPending

	// ErrNoValidMessages indicates the history had nothing usable left after
	// repair, so no model request could be built.
	ErrNoValidMessages = errors.New("no valid messages in history")

	// ErrEmptyInput is returned by RunTurn for blank user text.
	ErrEmptyInput = errors.New("empty user message")
)

// Sentinels used to classify tool failures.
var (
	// ErrNoProvider indicates no LLM provider is configured
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")
)

// ToolErrorType categorizes tool execution errors.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorCancelled    ToolErrorType = "cancelled"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorPanic        ToolErrorType = "panic"
	ToolErrorUnknown      ToolErrorType = "unknown"
)

// ToolError is a structured failure from a single tool call. The loop turns
// it into an error ToolResult so the model can react; it never aborts a turn.
type ToolError struct {
	// Type categorizes the error
	Type ToolErrorType

	// ToolName is the name of the tool that failed
	ToolName string

	// ToolCallID is the ID of the tool call that failed
	ToolCallID string

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	parts := []string{fmt.Sprintf("[tool:%s]", e.Type)}
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError creates a ToolError, classifying the cause.
func NewToolError(toolName string, cause error) *ToolError {
	err := &ToolError{
		ToolName: toolName,
		Cause:    cause,
		Type:     ToolErrorUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Type = classifyToolError(cause)
	}
	return err
}

// WithType sets the error type.
func (e *ToolError) WithType(t ToolErrorType) *ToolError {
	e.Type = t
	return e
}

// WithToolCallID sets the tool call ID for correlating errors with specific calls.
func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// WithMessage sets a custom human-readable error message.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

func classifyToolError(err error) ToolErrorType {
	switch {
	case err == nil:
		return ToolErrorUnknown
	case errors.Is(err, ErrToolNotFound):
		return ToolErrorNotFound
	case errors.Is(err, ErrToolTimeout):
		return ToolErrorTimeout
	case errors.Is(err, ErrToolPanic):
		return ToolErrorPanic
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "deadline exceeded") || strings.Contains(errStr, "timeout") {
		return ToolErrorTimeout
	}
	if strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "validation") ||
		strings.Contains(errStr, "required") ||
		strings.Contains(errStr, "missing") {
		return ToolErrorInvalidInput
	}
	return ToolErrorExecution
}

// GetToolError extracts a ToolError from an error chain using errors.As.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// LoopError is a fatal failure inside the turn loop, annotated with the phase
// and step where it happened. Provider and store failures surface this way.
type LoopError struct {
	// Phase is the loop phase where the error occurred
	Phase LoopPhase

	// Iteration is the loop step where the error occurred
	Iteration int

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loop error at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (iteration %d)", e.Phase, e.Iteration)
}

// Unwrap returns the underlying error.
func (e *LoopError) Unwrap() error {
	return e.Cause
}

// LoopPhase represents a distinct phase in the turn lifecycle.
type LoopPhase string

const (
	// PhaseInit loads history and appends the user message
	PhaseInit LoopPhase = "init"

	// PhaseStream is the model call
	PhaseStream LoopPhase = "stream"

	// PhaseExecuteTools runs the requested tool calls
	PhaseExecuteTools LoopPhase = "execute_tools"

	// PhaseResume applies a human decision to a paused call
	PhaseResume LoopPhase = "resume"

	// PhaseComplete persists the final answer
	PhaseComplete LoopPhase = "complete"
)
