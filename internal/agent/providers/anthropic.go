// Package providers implements agent.LLMProvider for the model backends the
// assistant can talk to: OpenAI, OpenRouter (OpenAI-compatible) and
// Anthropic.
//
// Every provider streams. Text arrives as it is generated; tool calls are
// emitted whole, in the order the model produced them; the stream ends with a
// Done chunk carrying token usage, or with an Error chunk. Transient failures
// while opening a stream are retried with jittered exponential backoff
// (BaseProvider.Retry). Failures are reported as *ProviderError so callers can
// inspect the reason:
//
//	chunks, err := provider.Complete(ctx, req)
//	if perr, ok := providers.GetProviderError(err); ok && perr.Reason == providers.ReasonAuth {
//	    // bad credentials
//	}
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/haasonsaas/teller/internal/agent"
	"github.com/haasonsaas/teller/internal/agent/toolconv"
	"github.com/haasonsaas/teller/pkg/models"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096

	// maxEmptyStreamEvents bounds consecutive events that carry nothing
	// before the stream is treated as malformed.
	maxEmptyStreamEvents = 300
)

// AnthropicConfig holds configuration parameters for creating an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the default Anthropic API base URL.
	BaseURL string

	MaxRetries int
	RetryDelay time.Duration

	// DefaultModel is used when a request does not name one.
	// Default: "claude-sonnet-4-20250514"
	DefaultModel string
}

// AnthropicProvider implements agent.LLMProvider for the Claude Messages API.
//
// Anthropic reports HTTP failures when the first event is read rather than
// when the stream is created, so a stream that fails before producing any
// output is retried as a whole. Once a chunk has been delivered, errors end
// the stream.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	base         BaseProvider
}

// NewAnthropicProvider validates cfg and builds the SDK client.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultAnthropicModel
	}

	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are driven by BaseProvider.
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: cfg.DefaultModel,
		base:         NewBaseProvider("anthropic", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000},
	}
}

func (p *AnthropicProvider) SupportsTools() bool {
	return true
}

// Complete converts the request and streams the response. Conversion errors
// are returned synchronously; transport errors arrive on the channel.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if req == nil {
		return nil, errors.New("anthropic: nil request")
	}
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	model := string(params.Model)

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		var streamErr error
		err := p.base.Retry(ctx, IsRetryable, func() error {
			stream := p.client.Messages.NewStreaming(ctx, params)
			started, err := p.processStream(ctx, stream, chunks, model)
			if err == nil {
				return nil
			}
			if started {
				// Output already reached the caller; do not replay it.
				streamErr = err
				return nil
			}
			return err
		})
		if streamErr != nil {
			err = streamErr
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			select {
			case chunks <- &agent.CompletionChunk{Error: err}:
			case <-ctx.Done():
			}
		}
	}()
	return chunks, nil
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	messages, err := convertToAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

// processStream forwards one SSE stream. started reports whether any chunk
// was delivered before err occurred.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk, model string) (started bool, err error) {
	defer stream.Close()

	send := func(chunk *agent.CompletionChunk) error {
		select {
		case chunks <- chunk:
			started = true
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var (
		currentCall  *models.ToolCall
		currentInput strings.Builder
		inputTokens  int
		outputTokens int
		emptyEvents  int
	)

	for stream.Next() {
		event := stream.Current()
		processed := true

		switch event.Type {
		case "message_start":
			inputTokens = int(event.AsMessageStart().Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch {
			case delta.Type == "text_delta" && delta.Text != "":
				if err := send(&agent.CompletionChunk{Text: delta.Text}); err != nil {
					return started, err
				}
			case delta.Type == "input_json_delta" && delta.PartialJSON != "":
				currentInput.WriteString(delta.PartialJSON)
			default:
				processed = false
			}

		case "content_block_stop":
			if currentCall == nil {
				break
			}
			input := strings.TrimSpace(currentInput.String())
			if input == "" {
				input = "{}"
			}
			currentCall.Input = json.RawMessage(input)
			call := currentCall
			currentCall = nil
			if err := send(&agent.CompletionChunk{ToolCall: call}); err != nil {
				return started, err
			}

		case "message_delta":
			if tokens := int(event.AsMessageDelta().Usage.OutputTokens); tokens > 0 {
				outputTokens = tokens
			}

		case "message_stop":
			return started, send(&agent.CompletionChunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			})

		case "error":
			return started, p.wrapError(errors.New("anthropic stream error"), model)

		default:
			processed = false
		}

		if processed {
			emptyEvents = 0
			continue
		}
		emptyEvents++
		if emptyEvents >= maxEmptyStreamEvents {
			return started, p.wrapError(fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEvents), model)
		}
	}

	if err := stream.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return started, ctxErr
		}
		return started, p.wrapError(err, model)
	}
	return started, p.wrapError(errors.New("stream ended without message_stop"), model)
}

// convertToAnthropicMessages maps the transcript onto Messages API params.
// Tool results travel in a user message; tool calls become tool_use blocks on
// the assistant message that requested them.
func convertToAnthropicMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.CallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			input := map[string]any{}
			if len(strings.TrimSpace(string(tc.Input))) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid input for tool call %s: %w", tc.ID, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return NewProviderError("anthropic", model, err)
	}

	providerErr := (&ProviderError{
		Provider: "anthropic",
		Model:    model,
		Cause:    err,
		Reason:   ReasonUnknown,
		Message:  "anthropic request failed",
	}).WithStatus(apiErr.StatusCode)

	requestID := apiErr.RequestID
	if raw := apiErr.RawJSON(); raw != "" {
		var payload anthropicErrorPayload
		if json.Unmarshal([]byte(raw), &payload) == nil {
			if payload.Error.Message != "" {
				providerErr = providerErr.WithMessage(payload.Error.Message)
			}
			if payload.Error.Type != "" {
				providerErr = providerErr.WithCode(payload.Error.Type)
			}
			if payload.RequestID != "" {
				requestID = payload.RequestID
			}
		}
	}
	if requestID != "" {
		providerErr = providerErr.WithRequestID(requestID)
	}
	return providerErr
}
