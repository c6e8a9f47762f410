package agent

import (
	"time"

	"github.com/haasonsaas/teller/pkg/models"
)

// TurnStatus is the outcome of a turn: the terminal state reached by the
// loop, or the pause for approval.
type TurnStatus string

const (
	StatusRunning          TurnStatus = "running"
	StatusAwaitingApproval TurnStatus = "awaiting_approval"
	StatusDone             TurnStatus = "done"
	StatusFailed           TurnStatus = "failed"
)

// TurnResult is returned by RunTurn and ResumeTurn.
type TurnResult struct {
	ConversationID string

	Status TurnStatus

	// Answer is nil only while awaiting approval.
	Answer *string

	// Limit names the limit hit when Status is StatusFailed.
	Limit LimitKind

	// Sources are the document records produced during this turn.
	Sources []models.SourceRecord

	// Interrupt is set when Status is StatusAwaitingApproval.
	Interrupt *models.Interrupt

	Counters models.TurnCounters
}

// AnswerText returns the answer or an empty string.
func (r *TurnResult) AnswerText() string {
	if r == nil || r.Answer == nil {
		return ""
	}
	return *r.Answer
}

// turnState is the mutable record of one turn. The loop owns it
// exclusively; every append goes to the store first and then to history.
type turnState struct {
	conversationID string
	history        []models.Message
	counters       models.TurnCounters
	status         TurnStatus
	startedAt      time.Time
}

func newTurnState(conversationID string, history []models.Message, counters models.TurnCounters) *turnState {
	return &turnState{
		conversationID: conversationID,
		history:        history,
		counters:       counters,
		status:         StatusRunning,
		startedAt:      time.Now(),
	}
}
