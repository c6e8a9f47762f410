package models

import (
	"encoding/json"
	"time"
)

// ChannelType represents a messaging platform.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelCLI      ChannelType = "cli"
)

// MessageKind tags the concrete variant of a Message.
type MessageKind string

const (
	KindUserText             MessageKind = "user_text"
	KindAssistantText        MessageKind = "assistant_text"
	KindAssistantToolRequest MessageKind = "assistant_tool_request"
	KindToolResult           MessageKind = "tool_result"
)

// Message is one entry of a conversation history.
//
// The set of implementations is closed: UserText, AssistantText,
// AssistantToolRequest and ToolResult. Consumers switch on the concrete type
// and treat anything else as corrupt history.
type Message interface {
	Kind() MessageKind
	MessageID() string
	Timestamp() time.Time
	isMessage()
}

// UserText is text typed by the human.
type UserText struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// AssistantText is a final model answer with no tool requests.
type AssistantText struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// AssistantToolRequest is a model response that asks for one or more tools.
// Text is whatever the model said alongside the calls and may be empty.
type AssistantToolRequest struct {
	ID        string     `json:"id"`
	Text      string     `json:"text,omitempty"`
	Calls     []ToolCall `json:"calls"`
	CreatedAt time.Time  `json:"created_at"`
}

// ToolResult is the output of a single tool call, keyed back to the request
// by CallID.
type ToolResult struct {
	ID        string    `json:"id"`
	CallID    string    `json:"call_id"`
	ToolName  string    `json:"tool_name"`
	Content   string    `json:"content"`
	IsError   bool      `json:"is_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *UserText) Kind() MessageKind             { return KindUserText }
func (m *AssistantText) Kind() MessageKind        { return KindAssistantText }
func (m *AssistantToolRequest) Kind() MessageKind { return KindAssistantToolRequest }
func (m *ToolResult) Kind() MessageKind           { return KindToolResult }

func (m *UserText) MessageID() string             { return m.ID }
func (m *AssistantText) MessageID() string        { return m.ID }
func (m *AssistantToolRequest) MessageID() string { return m.ID }
func (m *ToolResult) MessageID() string           { return m.ID }

func (m *UserText) Timestamp() time.Time             { return m.CreatedAt }
func (m *AssistantText) Timestamp() time.Time        { return m.CreatedAt }
func (m *AssistantToolRequest) Timestamp() time.Time { return m.CreatedAt }
func (m *ToolResult) Timestamp() time.Time           { return m.CreatedAt }

func (*UserText) isMessage()             {}
func (*AssistantText) isMessage()        {}
func (*AssistantToolRequest) isMessage() {}
func (*ToolResult) isMessage()           {}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// CloneMessage returns a deep copy of m. Nil and unknown variants return nil.
func CloneMessage(m Message) Message {
	switch v := m.(type) {
	case *UserText:
		if v == nil {
			return nil
		}
		c := *v
		return &c
	case *AssistantText:
		if v == nil {
			return nil
		}
		c := *v
		return &c
	case *AssistantToolRequest:
		if v == nil {
			return nil
		}
		c := *v
		c.Calls = CloneToolCalls(v.Calls)
		return &c
	case *ToolResult:
		if v == nil {
			return nil
		}
		c := *v
		return &c
	default:
		return nil
	}
}

// CloneMessages deep-copies a history slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, CloneMessage(m))
	}
	return out
}

// CloneToolCalls deep-copies tool calls including their raw input.
func CloneToolCalls(calls []ToolCall) []ToolCall {
	if calls == nil {
		return nil
	}
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		out[i] = c
		if c.Input != nil {
			out[i].Input = append(json.RawMessage(nil), c.Input...)
		}
	}
	return out
}
