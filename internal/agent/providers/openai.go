package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/teller/internal/agent"
	"github.com/haasonsaas/teller/internal/agent/toolconv"
	"github.com/haasonsaas/teller/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures an OpenAI or OpenAI-compatible provider.
type OpenAIConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a proxy or a compatible
	// gateway.
	BaseURL string

	// DefaultModel is used when a request does not name one.
	DefaultModel string

	MaxRetries int
	RetryDelay time.Duration

	// HTTPClient replaces the SDK's default client.
	HTTPClient *http.Client
}

// OpenAIProvider implements agent.LLMProvider over the chat completions
// streaming API.
//
// Tool calls stream as fragments keyed by index. They are accumulated and
// emitted in index order once the model finishes, so the engine sees them in
// the order the model produced them.
//
// OpenAIProvider is safe for concurrent use.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	models       []agent.Model
	base         BaseProvider
}

// NewOpenAIProvider creates a provider for api.openai.com or a compatible
// endpoint.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	return newOpenAICompatible("openai", cfg, openAIModels)
}

func newOpenAICompatible(name string, cfg OpenAIConfig, catalog []agent.Model) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s: API key is required", name)
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultOpenAIModel
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientConfig.BaseURL = strings.TrimRight(base, "/")
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: cfg.DefaultModel,
		models:       catalog,
		base:         NewBaseProvider(name, cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

var openAIModels = []agent.Model{
	{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000},
	{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000},
	{ID: "gpt-4.1", Name: "GPT-4.1", ContextSize: 1047576},
	{ID: "gpt-4.1-mini", Name: "GPT-4.1 mini", ContextSize: 1047576},
}

func (p *OpenAIProvider) Name() string {
	return p.base.Name()
}

func (p *OpenAIProvider) Models() []agent.Model {
	return append([]agent.Model(nil), p.models...)
}

func (p *OpenAIProvider) SupportsTools() bool {
	return true
}

// Complete opens a streaming chat completion. Opening the stream is retried
// on transient failures; once chunks flow, errors are delivered on the
// channel and never retried.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if req == nil {
		return nil, errors.New("openai: nil request")
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      convertToOpenAIMessages(req.Messages, req.System),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	err := p.base.Retry(ctx, IsRetryable, func() error {
		var err error
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return p.wrapError(err, model)
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

type streamedToolCall struct {
	index int
	call  models.ToolCall
	args  strings.Builder
}

// toolCallAccumulator assembles streamed tool call fragments.
type toolCallAccumulator struct {
	calls map[int]*streamedToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*streamedToolCall)}
}

func (a *toolCallAccumulator) add(delta openai.ToolCall) {
	index := 0
	if delta.Index != nil {
		index = *delta.Index
	}
	entry, ok := a.calls[index]
	if !ok {
		entry = &streamedToolCall{index: index}
		a.calls[index] = entry
	}
	if delta.ID != "" {
		entry.call.ID = delta.ID
	}
	if delta.Function.Name != "" {
		entry.call.Name = delta.Function.Name
	}
	entry.args.WriteString(delta.Function.Arguments)
}

// drain returns the complete calls in index order and resets the accumulator.
func (a *toolCallAccumulator) drain() []models.ToolCall {
	entries := make([]*streamedToolCall, 0, len(a.calls))
	for _, entry := range a.calls {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].index < entries[j].index })

	calls := make([]models.ToolCall, 0, len(entries))
	for _, entry := range entries {
		if entry.call.ID == "" || entry.call.Name == "" {
			continue
		}
		call := entry.call
		args := strings.TrimSpace(entry.args.String())
		if args == "" {
			args = "{}"
		}
		call.Input = json.RawMessage(args)
		calls = append(calls, call)
	}
	a.calls = make(map[int]*streamedToolCall)
	return calls
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	pending := newToolCallAccumulator()
	var inputTokens, outputTokens int

	send := func(chunk *agent.CompletionChunk) bool {
		select {
		case chunks <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}
	flush := func() bool {
		for _, call := range pending.drain() {
			call := call
			if !send(&agent.CompletionChunk{ToolCall: &call}) {
				return false
			}
		}
		return true
	}

	for {
		if err := ctx.Err(); err != nil {
			send(&agent.CompletionChunk{Error: err})
			return
		}

		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if flush() {
				send(&agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
			}
			return
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			} else {
				err = p.wrapError(err, model)
			}
			send(&agent.CompletionChunk{Error: err})
			return
		}

		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			if !send(&agent.CompletionChunk{Text: choice.Delta.Content}) {
				return
			}
		}
		for _, delta := range choice.Delta.ToolCalls {
			pending.add(delta)
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !flush() {
				return
			}
		}
	}
}

// convertToOpenAIMessages maps the engine transcript onto chat messages. The
// system prompt leads, and each grouped tool message fans out into one "tool"
// message per result.
func convertToOpenAIMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.CallID,
				})
			}
		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				args := string(tc.Input)
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return result
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	name := p.base.Name()
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError(name, model, err)
		if apiErr.HTTPStatusCode != 0 {
			providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		} else if apiErr.Type != "" {
			providerErr = providerErr.WithCode(apiErr.Type)
		}
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		return providerErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		providerErr := NewProviderError(name, model, err)
		if reqErr.HTTPStatusCode != 0 {
			providerErr = providerErr.WithStatus(reqErr.HTTPStatusCode)
		}
		return providerErr
	}

	return NewProviderError(name, model, err)
}
