package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/haasonsaas/teller/internal/agent"
	"github.com/haasonsaas/teller/pkg/models"
)

func strPtr(s string) *string { return &s }

func TestFormatAnswer(t *testing.T) {
	result := &agent.TurnResult{
		Status: agent.StatusDone,
		Answer: strPtr("The grace period is 55 days."),
		Sources: []models.SourceRecord{
			{Source: "cards.pdf", Page: "2"},
			{Source: "cards.pdf", Page: "2"},
			{Source: "tariffs.md"},
			{Source: "faq.json", Page: "7"},
		},
	}

	tests := []struct {
		name        string
		showSources bool
		max         int
		want        string
	}{
		{
			name: "answer only",
			want: "The grace period is 55 days.",
		},
		{
			name:        "with sources",
			showSources: true,
			want:        "The grace period is 55 days.\n\nSources:\n1. cards.pdf, p. 2\n2. tariffs.md\n3. faq.json, p. 7",
		},
		{
			name:        "capped sources",
			showSources: true,
			max:         1,
			want:        "The grace period is 55 days.\n\nSources:\n1. cards.pdf, p. 2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatAnswer(result, tt.showSources, tt.max); got != tt.want {
				t.Errorf("FormatAnswer() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}

	if got := FormatAnswer(&agent.TurnResult{Answer: strPtr("  ")}, true, 0); got != agent.EmptyAnswerMessage {
		t.Errorf("blank answer rendered as %q", got)
	}
}

func TestDescribeInterrupt(t *testing.T) {
	interrupt := &models.Interrupt{
		ID: "int-1",
		Call: models.ToolCall{
			Name:  "open_deposit",
			Input: json.RawMessage(`{"amount":50000,"term_months":12,"currency":"RUB","rate":1.5}`),
		},
	}
	want := "Please confirm the operation: Open a deposit\n  amount: 50000\n  currency: RUB\n  rate: 1.50\n  term_months: 12"
	if got := DescribeInterrupt(interrupt); got != want {
		t.Errorf("DescribeInterrupt() =\n%s\nwant\n%s", got, want)
	}

	unknown := &models.Interrupt{Call: models.ToolCall{Name: "wire_transfer", Input: json.RawMessage(`not json`)}}
	if got := DescribeInterrupt(unknown); got != "Please confirm the operation: wire_transfer" {
		t.Errorf("DescribeInterrupt() = %q", got)
	}
	if got := DescribeInterrupt(nil); got != NothingPendingMessage {
		t.Errorf("DescribeInterrupt(nil) = %q", got)
	}
}

func TestUserFacingError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{agent.ErrInterruptPending, PendingApprovalMessage},
		{fmt.Errorf("wrapped: %w", agent.ErrNothingToResume), NothingPendingMessage},
		{context.DeadlineExceeded, TimeoutMessage},
		{errors.New("boom"), InternalErrorMessage},
	}
	for _, tt := range tests {
		if got := UserFacingError(tt.err); got != tt.want {
			t.Errorf("UserFacingError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
