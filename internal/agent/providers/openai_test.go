package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/teller/internal/agent"
	"github.com/haasonsaas/teller/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// sseServer replays canned chat completion stream events.
func sseServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, attempt int)) *httptest.Server {
	t.Helper()
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, r, int(attempts.Add(1)))
	}))
	t.Cleanup(server.Close)
	return server
}

func writeSSE(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, event := range events {
		fmt.Fprintf(w, "data: %s\n\n", event)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func collect(t *testing.T, chunks <-chan *agent.CompletionChunk) (string, []models.ToolCall, *agent.CompletionChunk, error) {
	t.Helper()
	var text strings.Builder
	var calls []models.ToolCall
	var done *agent.CompletionChunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return text.String(), calls, done, nil
			}
			if chunk.Error != nil {
				return text.String(), calls, done, chunk.Error
			}
			text.WriteString(chunk.Text)
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
			if chunk.Done {
				done = chunk
			}
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func newTestOpenAI(t *testing.T, url string) *OpenAIProvider {
	t.Helper()
	provider, err := NewOpenAIProvider(OpenAIConfig{
		APIKey:     "test-key",
		BaseURL:    url + "/v1/",
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	return provider
}

func TestNewOpenAIProvider(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Error("expected error for missing API key")
	}

	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	if provider.Name() != "openai" || !provider.SupportsTools() {
		t.Errorf("Name() = %q, SupportsTools() = %v", provider.Name(), provider.SupportsTools())
	}
	if provider.defaultModel != defaultOpenAIModel {
		t.Errorf("defaultModel = %q", provider.defaultModel)
	}
	for _, m := range provider.Models() {
		if m.ID == "" || m.ContextSize <= 0 {
			t.Errorf("bad model %+v", m)
		}
	}
}

func TestConvertToOpenAIMessages(t *testing.T) {
	messages := []agent.CompletionMessage{
		{Role: "user", Content: "Open a card"},
		{
			Role: "assistant",
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "rag_search", Input: json.RawMessage(`{"query":"cards"}`)},
				{ID: "call_2", Name: "currency_converter"},
			},
		},
		{
			Role: "tool",
			ToolResults: []models.ToolResult{
				{CallID: "call_1", Content: `{"sources":[]}`},
				{CallID: "call_2", Content: "bad currency", IsError: true},
			},
		},
		{Role: "assistant", Content: "Done"},
	}

	got := convertToOpenAIMessages(messages, "You are a bank assistant.")
	if len(got) != 6 {
		t.Fatalf("len = %d, want 6 (system + user + assistant + 2 tool + assistant)", len(got))
	}

	if got[0].Role != openai.ChatMessageRoleSystem || got[0].Content != "You are a bank assistant." {
		t.Errorf("system message = %+v", got[0])
	}
	if len(got[2].ToolCalls) != 2 || got[2].ToolCalls[0].Function.Arguments != `{"query":"cards"}` {
		t.Errorf("assistant tool calls = %+v", got[2].ToolCalls)
	}
	if got[2].ToolCalls[1].Function.Arguments != "{}" {
		t.Errorf("empty arguments = %q, want {}", got[2].ToolCalls[1].Function.Arguments)
	}
	for i, wantID := range []string{"call_1", "call_2"} {
		msg := got[3+i]
		if msg.Role != openai.ChatMessageRoleTool || msg.ToolCallID != wantID {
			t.Errorf("tool message %d = %+v", i, msg)
		}
	}

	if got := convertToOpenAIMessages(nil, ""); len(got) != 0 {
		t.Errorf("empty conversion = %v", got)
	}
}

func TestToolCallAccumulator_IndexOrder(t *testing.T) {
	acc := newToolCallAccumulator()
	idx := func(i int) *int { return &i }

	acc.add(openai.ToolCall{Index: idx(1), ID: "call_b", Function: openai.FunctionCall{Name: "open_deposit"}})
	acc.add(openai.ToolCall{Index: idx(0), ID: "call_a", Function: openai.FunctionCall{Name: "rag_search", Arguments: `{"query":`}})
	acc.add(openai.ToolCall{Index: idx(0), Function: openai.FunctionCall{Arguments: `"cards"}`}})
	acc.add(openai.ToolCall{Index: idx(2), Function: openai.FunctionCall{Arguments: `{}`}})

	calls := acc.drain()
	if len(calls) != 2 {
		t.Fatalf("len = %d, want 2 (incomplete call dropped)", len(calls))
	}
	if calls[0].ID != "call_a" || string(calls[0].Input) != `{"query":"cards"}` {
		t.Errorf("calls[0] = %+v", calls[0])
	}
	if calls[1].ID != "call_b" || string(calls[1].Input) != "{}" {
		t.Errorf("calls[1] = %+v", calls[1])
	}
	if len(acc.drain()) != 0 {
		t.Error("drain did not reset")
	}
}

func TestOpenAIProvider_StreamText(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		body, _ := io.ReadAll(r.Body)
		var req openai.ChatCompletionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != defaultOpenAIModel || !req.Stream {
			t.Errorf("request model=%q stream=%v", req.Model, req.Stream)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		writeSSE(w,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hello"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":" there"},"finish_reason":"stop"}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":2,"total_tokens":14}}`,
		)
	})

	provider := newTestOpenAI(t, server.URL)
	chunks, err := provider.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	text, calls, done, err := collect(t, chunks)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if text != "Hello there" || len(calls) != 0 {
		t.Errorf("text = %q, calls = %v", text, calls)
	}
	if done == nil || done.InputTokens != 12 || done.OutputTokens != 2 {
		t.Errorf("done chunk = %+v", done)
	}
}

func TestOpenAIProvider_StreamToolCallsInOrder(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		writeSSE(w,
			`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"currency_converter","arguments":""}}]}}]}`,
			`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"rag_search","arguments":"{\"query\":"}}]}}]}`,
			`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"deposits\"}"}}]}}]}`,
			`{"id":"1","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"function":{"arguments":"{\"amount\":10,\"from_currency\":\"USD\",\"to_currency\":\"EUR\"}"}}]}}]}`,
			`{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		)
	})

	provider := newTestOpenAI(t, server.URL)
	chunks, err := provider.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "rates?"}},
		Tools:    []agent.Tool{testTool{name: "rag_search"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	_, calls, done, err := collect(t, chunks)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if done == nil {
		t.Error("missing done chunk")
	}
	if len(calls) != 2 {
		t.Fatalf("len(calls) = %d, want 2", len(calls))
	}
	if calls[0].ID != "call_1" || calls[1].ID != "call_2" {
		t.Errorf("call order = %s, %s", calls[0].ID, calls[1].ID)
	}
	if string(calls[0].Input) != `{"query":"deposits"}` {
		t.Errorf("calls[0].Input = %s", calls[0].Input)
	}
}

func TestOpenAIProvider_RetriesTransientErrors(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, r *http.Request, attempt int) {
		if attempt < 3 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
			return
		}
		writeSSE(w, `{"id":"1","choices":[{"index":0,"delta":{"content":"ok"},"finish_reason":"stop"}]}`)
	})

	provider := newTestOpenAI(t, server.URL)
	chunks, err := provider.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text, _, _, err := collect(t, chunks); err != nil || text != "ok" {
		t.Errorf("stream = %q, %v", text, err)
	}
}

func TestOpenAIProvider_PermanentError(t *testing.T) {
	var calls atomic.Int32
	server := sseServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	})

	provider := newTestOpenAI(t, server.URL)
	_, err := provider.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	providerErr, ok := GetProviderError(err)
	if !ok {
		t.Fatalf("error = %v, want ProviderError", err)
	}
	if providerErr.Reason != ReasonAuth || providerErr.Status != http.StatusUnauthorized {
		t.Errorf("reason = %q status = %d", providerErr.Reason, providerErr.Status)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestOpenAIProvider_CancelledContext(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		writeSSE(w)
	})
	provider := newTestOpenAI(t, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := provider.Complete(ctx, &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Complete() error = %v, want context.Canceled", err)
	}
}

func TestOpenRouterProvider_Headers(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		if r.Header.Get("X-Title") != "Teller" || r.Header.Get("HTTP-Referer") != "https://bank.example" {
			t.Errorf("headers = %v", r.Header)
		}
		writeSSE(w, `{"id":"1","choices":[{"index":0,"delta":{"content":"hi"},"finish_reason":"stop"}]}`)
	})

	provider, err := NewOpenRouterProvider(OpenRouterConfig{
		APIKey:  "or-key",
		AppName: "Teller",
		SiteURL: "https://bank.example",
		BaseURL: server.URL + "/api/v1",
	})
	if err != nil {
		t.Fatalf("NewOpenRouterProvider() error = %v", err)
	}
	if provider.Name() != "openrouter" || provider.defaultModel != "openai/gpt-4o-mini" {
		t.Errorf("Name() = %q defaultModel = %q", provider.Name(), provider.defaultModel)
	}

	chunks, err := provider.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text, _, _, err := collect(t, chunks); err != nil || text != "hi" {
		t.Errorf("stream = %q, %v", text, err)
	}

	if _, err := NewOpenRouterProvider(OpenRouterConfig{}); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestOpenAIWrapError(t *testing.T) {
	provider := newTestOpenAI(t, "http://localhost")

	tests := []struct {
		name       string
		err        error
		wantReason ErrorReason
		wantStatus int
	}{
		{"api error", &openai.APIError{HTTPStatusCode: 429, Code: "rate_limit_exceeded", Message: "slow"}, ReasonRateLimit, 429},
		{"api error type only", &openai.APIError{HTTPStatusCode: 400, Type: "invalid_request_error"}, ReasonInvalidRequest, 400},
		{"request error", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, ReasonServerError, 502},
		{"plain", errors.New("dial tcp: connection refused"), ReasonServerError, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			providerErr, ok := GetProviderError(provider.wrapError(tt.err, "m"))
			if !ok {
				t.Fatal("expected ProviderError")
			}
			if providerErr.Reason != tt.wantReason || providerErr.Status != tt.wantStatus {
				t.Errorf("reason = %q status = %d, want %q %d", providerErr.Reason, providerErr.Status, tt.wantReason, tt.wantStatus)
			}
			if providerErr.Provider != "openai" {
				t.Errorf("Provider = %q", providerErr.Provider)
			}
		})
	}

	already := NewProviderError("openai", "m", errors.New("x"))
	if provider.wrapError(already, "m") != already {
		t.Error("wrapError re-wrapped a ProviderError")
	}
	if provider.wrapError(nil, "m") != nil {
		t.Error("wrapError(nil) != nil")
	}
}

type testTool struct {
	name string
}

func (t testTool) Name() string        { return t.name }
func (t testTool) Description() string { return "test tool" }
func (t testTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`)
}
func (t testTool) Execute(context.Context, json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "ok"}, nil
}
