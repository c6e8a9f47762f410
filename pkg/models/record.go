package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownMessageKind is returned when decoding a record whose kind is not
// one of the Message variants.
var ErrUnknownMessageKind = errors.New("unknown message kind")

// MessageRecord is the flat storage shape of a Message. SQL and Redis
// backends persist records and convert them with EncodeMessage and
// DecodeMessage.
type MessageRecord struct {
	ID         string          `json:"id"`
	Kind       MessageKind     `json:"kind"`
	Content    string          `json:"content,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// EncodeMessage flattens a Message into a MessageRecord.
func EncodeMessage(m Message) (MessageRecord, error) {
	switch v := m.(type) {
	case *UserText:
		return MessageRecord{ID: v.ID, Kind: KindUserText, Content: v.Text, CreatedAt: v.CreatedAt}, nil
	case *AssistantText:
		return MessageRecord{ID: v.ID, Kind: KindAssistantText, Content: v.Text, CreatedAt: v.CreatedAt}, nil
	case *AssistantToolRequest:
		calls, err := json.Marshal(v.Calls)
		if err != nil {
			return MessageRecord{}, fmt.Errorf("failed to marshal tool calls: %w", err)
		}
		return MessageRecord{
			ID:        v.ID,
			Kind:      KindAssistantToolRequest,
			Content:   v.Text,
			ToolCalls: calls,
			CreatedAt: v.CreatedAt,
		}, nil
	case *ToolResult:
		return MessageRecord{
			ID:         v.ID,
			Kind:       KindToolResult,
			Content:    v.Content,
			ToolCallID: v.CallID,
			ToolName:   v.ToolName,
			IsError:    v.IsError,
			CreatedAt:  v.CreatedAt,
		}, nil
	case nil:
		return MessageRecord{}, errors.New("nil message")
	default:
		return MessageRecord{}, fmt.Errorf("%w: %T", ErrUnknownMessageKind, m)
	}
}

// DecodeMessage rebuilds the Message variant described by r.
func DecodeMessage(r MessageRecord) (Message, error) {
	switch r.Kind {
	case KindUserText:
		return &UserText{ID: r.ID, Text: r.Content, CreatedAt: r.CreatedAt}, nil
	case KindAssistantText:
		return &AssistantText{ID: r.ID, Text: r.Content, CreatedAt: r.CreatedAt}, nil
	case KindAssistantToolRequest:
		var calls []ToolCall
		if len(r.ToolCalls) > 0 {
			if err := json.Unmarshal(r.ToolCalls, &calls); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
			}
		}
		return &AssistantToolRequest{ID: r.ID, Text: r.Content, Calls: calls, CreatedAt: r.CreatedAt}, nil
	case KindToolResult:
		return &ToolResult{
			ID:        r.ID,
			CallID:    r.ToolCallID,
			ToolName:  r.ToolName,
			Content:   r.Content,
			IsError:   r.IsError,
			CreatedAt: r.CreatedAt,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageKind, r.Kind)
	}
}
