package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Conversation is the persisted history of one chat.
type Conversation struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TurnCounters tracks resource use within a single turn. The counters survive
// an approval pause and continue from where they stood on resume.
type TurnCounters struct {
	ModelCalls int `json:"model_calls"`
	ToolCalls  int `json:"tool_calls"`
	Steps      int `json:"steps"`
}

// Decision is a human verdict on a paused privileged call.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision accepts "approve" or "reject" in any case.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(DecisionApprove):
		return DecisionApprove, nil
	case string(DecisionReject):
		return DecisionReject, nil
	default:
		return "", fmt.Errorf("invalid decision %q", s)
	}
}

// Interrupt is a turn suspended on a privileged tool call.
//
// Remaining holds the calls that followed Call in the same model response;
// they run after the decision is applied, before the model is asked again.
type Interrupt struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Call           ToolCall     `json:"call"`
	Remaining      []ToolCall   `json:"remaining,omitempty"`
	Counters       TurnCounters `json:"counters"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Clone returns a deep copy of the interrupt.
func (i *Interrupt) Clone() *Interrupt {
	if i == nil {
		return nil
	}
	c := *i
	c.Call = CloneToolCalls([]ToolCall{i.Call})[0]
	c.Remaining = CloneToolCalls(i.Remaining)
	return &c
}

// SourceRecord is a citation extracted from a document search result.
type SourceRecord struct {
	Source  string  `json:"source"`
	Page    Locator `json:"page,omitempty"`
	Content string  `json:"page_content"`
}

// Locator is a page number or free-form position inside a source. It decodes
// from either a JSON number or a JSON string.
type Locator string

// UnmarshalJSON implements json.Unmarshaler.
func (l *Locator) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = Locator(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("locator must be a string or number: %w", err)
	}
	*l = Locator(n.String())
	return nil
}

// MarshalJSON emits integers as numbers and everything else as strings.
func (l Locator) MarshalJSON() ([]byte, error) {
	if l == "" {
		return []byte("null"), nil
	}
	if n, err := strconv.ParseInt(string(l), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(l))
}
