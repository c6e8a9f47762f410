package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/teller/internal/agent"
	"github.com/haasonsaas/teller/pkg/models"
)

// TurnEngine is the part of the turn engine a front end drives.
type TurnEngine interface {
	RunTurn(ctx context.Context, conversationID, userText string) (*agent.TurnResult, error)
	ResumeTurn(ctx context.Context, conversationID string, decision models.Decision, reason string) (*agent.TurnResult, error)
	Reset(ctx context.Context, conversationID string) error
	PendingInterrupt(ctx context.Context, conversationID string) (*models.Interrupt, error)
}

var _ TurnEngine = (*agent.Engine)(nil)

// User-facing texts.
const (
	PendingApprovalMessage = "Please approve or reject the pending operation first."
	NothingPendingMessage  = "There is no pending operation."
	TimeoutMessage         = "Sorry, that took too long. Please try again."
	InternalErrorMessage   = "Sorry, something went wrong. Please try again later."
	ResetMessage           = "Conversation cleared. How can I help?"
)

var toolLabels = map[string]string{
	"open_credit_card": "Open a credit card",
	"open_deposit":     "Open a deposit",
}

// UserFacingError maps an engine error to a reply for the user.
func UserFacingError(err error) string {
	switch {
	case errors.Is(err, agent.ErrInterruptPending):
		return PendingApprovalMessage
	case errors.Is(err, agent.ErrNothingToResume):
		return NothingPendingMessage
	case errors.Is(err, context.DeadlineExceeded):
		return TimeoutMessage
	default:
		return InternalErrorMessage
	}
}

// FormatAnswer renders a finished turn, optionally followed by up to
// maxSources citations.
func FormatAnswer(result *agent.TurnResult, showSources bool, maxSources int) string {
	answer := strings.TrimSpace(result.AnswerText())
	if answer == "" {
		answer = agent.EmptyAnswerMessage
	}
	if !showSources || result == nil || len(result.Sources) == 0 {
		return answer
	}
	if sources := FormatSources(result.Sources, maxSources); sources != "" {
		answer += "\n\n" + sources
	}
	return answer
}

// FormatSources lists distinct source/page pairs in first-seen order.
func FormatSources(sources []models.SourceRecord, max int) string {
	seen := make(map[string]bool, len(sources))
	var lines []string
	for _, src := range sources {
		name := strings.TrimSpace(src.Source)
		if name == "" {
			continue
		}
		key := name + "\x00" + string(src.Page)
		if seen[key] {
			continue
		}
		seen[key] = true
		line := name
		if src.Page != "" {
			line += ", p. " + string(src.Page)
		}
		lines = append(lines, fmt.Sprintf("%d. %s", len(lines)+1, line))
		if max > 0 && len(lines) == max {
			break
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "Sources:\n" + strings.Join(lines, "\n")
}

// DescribeInterrupt renders the paused call for a confirmation prompt.
func DescribeInterrupt(interrupt *models.Interrupt) string {
	if interrupt == nil {
		return NothingPendingMessage
	}
	label, ok := toolLabels[interrupt.Call.Name]
	if !ok {
		label = interrupt.Call.Name
	}

	var b strings.Builder
	b.WriteString("Please confirm the operation: ")
	b.WriteString(label)

	var args map[string]any
	if err := json.Unmarshal(interrupt.Call.Input, &args); err == nil && len(args) > 0 {
		keys := make([]string, 0, len(args))
		for k := range args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n  %s: %v", k, formatArg(args[k]))
		}
	}
	return b.String()
}

func formatArg(v any) string {
	switch typed := v.(type) {
	case float64:
		if typed == float64(int64(typed)) {
			return fmt.Sprintf("%d", int64(typed))
		}
		return fmt.Sprintf("%.2f", typed)
	case string:
		return typed
	default:
		data, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(data)
	}
}
