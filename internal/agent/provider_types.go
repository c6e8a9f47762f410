package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/teller/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of one API (OpenAI, OpenRouter,
// Anthropic) and present a unified streaming interface to the engine. Transport
// retries are the provider's responsibility; the engine never retries a
// failed completion.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Turns of different
// conversations call Complete() simultaneously.
//
// See Also:
//   - providers.OpenAIProvider for OpenAI and OpenAI-compatible endpoints
//   - providers.AnthropicProvider for Anthropic Claude
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM completion request.
//
// Example:
//
//	req := &CompletionRequest{
//	    Model:     "gpt-4o-mini",
//	    System:    "You are a bank assistant.",
//	    Messages:  []CompletionMessage{
//	        {Role: "user", Content: "What are the credit card terms?"},
//	    },
//	    MaxTokens: 1024,
//	}
type CompletionRequest struct {
	// Model specifies which LLM model to use. If empty, the provider's
	// default model is used.
	Model string `json:"model"`

	// System is the system prompt. It is handled separately from messages in
	// most LLM APIs.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines available tools the LLM can request to execute.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens limits the maximum length of the generated response.
	// If 0 or negative, the provider's default is used.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage is the provider-facing view of one history entry.
//
// Role values: "user", "assistant", "tool". A "tool" message carries one or
// more ToolResults answering the preceding assistant ToolCalls.
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk represents a single chunk in a streaming LLM response.
//
// Each chunk carries one of: partial text, a complete tool call, the done
// signal, or an error. Providers emit tool calls in the order the model
// produced them.
type CompletionChunk struct {
	// Text contains partial response text
	Text string `json:"text,omitempty"`

	// ToolCall contains a complete tool execution request
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true when the stream has completed successfully
	Done bool `json:"done,omitempty"`

	// Error terminates the stream
	Error error `json:"-"`

	// InputTokens is only populated in the final chunk.
	InputTokens int `json:"input_tokens,omitempty"`

	// OutputTokens is only populated in the final chunk.
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}

// Tool defines the interface for executable assistant tools.
//
// Implementing a Tool:
//
//	type Echo struct{}
//
//	func (Echo) Name() string        { return "echo" }
//	func (Echo) Description() string { return "Repeats the input" }
//	func (Echo) Schema() json.RawMessage {
//	    return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
//	}
//	func (Echo) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
//	    var in struct{ Text string `json:"text"` }
//	    if err := json.Unmarshal(params, &in); err != nil {
//	        return &ToolResult{Content: err.Error(), IsError: true}, nil
//	    }
//	    return &ToolResult{Content: in.Text}, nil
//	}
//
// Tools validate their own arguments. Whether a tool needs human approval is
// decided by ApprovalPolicy, not by the tool.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description returns a natural language description of what the tool does.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution.
//
// Errors the model should see are reported with IsError=true rather than a
// Go error, so the model can handle failures gracefully.
type ToolResult struct {
	// Content is the tool's output (text, JSON, etc.)
	Content string `json:"content"`

	// IsError indicates this result represents an error condition
	IsError bool `json:"is_error,omitempty"`
}
