package agent

import (
	"fmt"

	"github.com/haasonsaas/teller/pkg/models"
)

// TurnLimits bounds the work a single turn may do.
type TurnLimits struct {
	// MaxModelCalls caps model invocations per turn
	// Default: 10
	MaxModelCalls int

	// MaxToolCalls caps tool invocations per turn, privileged calls included
	// Default: 10
	MaxToolCalls int

	// MaxSteps caps loop iterations per turn
	// Default: 50
	MaxSteps int
}

// DefaultTurnLimits returns the default limits.
func DefaultTurnLimits() TurnLimits {
	return TurnLimits{
		MaxModelCalls: 10,
		MaxToolCalls:  10,
		MaxSteps:      50,
	}
}

func sanitizeTurnLimits(l TurnLimits) TurnLimits {
	d := DefaultTurnLimits()
	if l.MaxModelCalls <= 0 {
		l.MaxModelCalls = d.MaxModelCalls
	}
	if l.MaxToolCalls <= 0 {
		l.MaxToolCalls = d.MaxToolCalls
	}
	if l.MaxSteps <= 0 {
		l.MaxSteps = d.MaxSteps
	}
	return l
}

// LimitKind names the limit that ended a turn.
type LimitKind string

const (
	LimitModelCalls LimitKind = "model_calls"
	LimitToolCalls  LimitKind = "tool_calls"
	LimitSteps      LimitKind = "steps"
)

// User-facing fallback answers.
const (
	EmptyAnswerMessage  = "Sorry, I could not produce an answer. Try rephrasing the question."
	StepLimitMessage    = "Sorry, the operation took too long. Please rephrase the question or split it into parts."
	DefaultRejectReason = "operation rejected by user"

	modelLimitFormat = "Sorry, the model call limit (%d) was reached. Try simplifying the question or splitting it into parts."
	toolLimitFormat  = "Sorry, the tool call limit (%d) was reached. Your request is too complex. Try splitting it into several simpler questions."
)

// boundedMessage returns the answer for a turn stopped by kind.
func (l TurnLimits) boundedMessage(kind LimitKind) string {
	switch kind {
	case LimitModelCalls:
		return fmt.Sprintf(modelLimitFormat, l.MaxModelCalls)
	case LimitToolCalls:
		return fmt.Sprintf(toolLimitFormat, l.MaxToolCalls)
	default:
		return StepLimitMessage
	}
}

// allowsStep reports whether another loop iteration may start after steps
// have already been counted.
func (l TurnLimits) allowsStep(c models.TurnCounters) bool {
	return c.Steps <= l.MaxSteps
}

// allowsModelCall reports whether one more model call fits.
func (l TurnLimits) allowsModelCall(c models.TurnCounters) bool {
	return c.ModelCalls+1 <= l.MaxModelCalls
}

// allowsToolBatch reports whether n more tool calls fit.
func (l TurnLimits) allowsToolBatch(c models.TurnCounters, n int) bool {
	return c.ToolCalls+n <= l.MaxToolCalls
}
