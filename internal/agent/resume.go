package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/teller/internal/observability"
	"github.com/haasonsaas/teller/internal/sessions"
	"github.com/haasonsaas/teller/pkg/models"
)

// resolveTimeout bounds the write that records a decision.
const resolveTimeout = 10 * time.Second

// ResumeTurn applies a human decision to the conversation's outstanding
// interrupt and continues the paused turn.
//
// On approve the deferred call runs now; on reject a synthetic error result
// carrying reason (or DefaultRejectReason) stands in for it. Either way the
// result is appended and the interrupt cleared in one store operation, the
// rest of the paused batch runs, and the loop resumes with the counters the
// turn had when it paused.
//
// Without an outstanding interrupt ResumeTurn returns ErrNothingToResume. If
// ctx is cancelled while an approved call runs and the tool aborts, nothing
// is appended and the interrupt stays in place. If the tool finished, its
// result is recorded and the interrupt cleared regardless, then ctx.Err() is
// returned without continuing the turn. A process that dies between the
// tool returning and that write leaves the interrupt in place, so a second
// approve can repeat the operation.
func (e *Engine) ResumeTurn(ctx context.Context, conversationID string, decision models.Decision, reason string) (*TurnResult, error) {
	if e.provider == nil {
		return nil, ErrNoProvider
	}
	if decision != models.DecisionApprove && decision != models.DecisionReject {
		return nil, fmt.Errorf("invalid decision %q", decision)
	}
	conversationID = strings.TrimSpace(conversationID)

	ctx = observability.AddConversationID(ctx, conversationID)
	ctx, span := e.tracer.Start(ctx, "engine.resume_turn",
		attribute.String("conversation.id", conversationID),
		attribute.String("resume.decision", string(decision)))
	defer span.End()

	unlock, err := e.lock(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	interrupt, err := e.store.GetInterrupt(ctx, conversationID)
	if errors.Is(err, sessions.ErrNotFound) {
		return nil, ErrNothingToResume
	}
	if err != nil {
		return nil, &LoopError{Phase: PhaseResume, Message: "failed to read interrupt", Cause: err}
	}

	history, err := e.loadHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	state := newTurnState(conversationID, history, interrupt.Counters)

	var result *models.ToolResult
	switch decision {
	case models.DecisionApprove:
		result, err = e.invokeApproved(ctx, interrupt.Call)
		if err != nil {
			return nil, err
		}
	case models.DecisionReject:
		reason = strings.TrimSpace(reason)
		if reason == "" {
			reason = DefaultRejectReason
		}
		result = &models.ToolResult{
			ID:        uuid.NewString(),
			CallID:    interrupt.Call.ID,
			ToolName:  interrupt.Call.Name,
			Content:   reason,
			IsError:   true,
			CreatedAt: time.Now(),
		}
	}

	// The decision is final once made; record it even if the caller has gone.
	resolveCtx, cancelResolve := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
	err = e.store.ResolveInterrupt(resolveCtx, conversationID, interrupt.ID, result)
	cancelResolve()
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) || errors.Is(err, sessions.ErrInterruptMismatch) {
			return nil, ErrNothingToResume
		}
		return nil, &LoopError{Phase: PhaseResume, Message: "failed to resolve interrupt", Cause: err}
	}
	state.history = append(state.history, result)
	e.metrics.RecordDecision(string(decision))
	e.logger.InfoContext(ctx, "interrupt resolved",
		"interrupt_id", interrupt.ID,
		"tool", interrupt.Call.Name,
		"decision", decision)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *TurnResult
	next, err := e.executeCalls(ctx, state, interrupt.Remaining)
	switch {
	case err != nil:
	case next != nil:
		out = e.paused(state, next)
	default:
		out, err = e.runLoop(ctx, state)
	}
	e.observeTurn(ctx, span, state, out, err)
	return out, err
}
