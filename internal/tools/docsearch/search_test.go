package docsearch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/teller/internal/agent"
	"github.com/haasonsaas/teller/internal/rag"
	"github.com/haasonsaas/teller/pkg/models"
)

var _ agent.Tool = (*Tool)(nil)

type panickingSearcher struct{}

func (panickingSearcher) Search(string, int) []rag.Result { panic("index corrupted") }

func testIndex() *rag.Index {
	return rag.NewIndex([]rag.Document{
		{Source: "cards.pdf", Page: "2", Content: "Credit card grace period is 55 days with no interest."},
		{Source: "cards.pdf", Page: "3", Content: "Annual credit card fee is waived for the first year."},
		{Source: "deposits.md", Content: "Deposit interest is paid monthly."},
	})
}

func decodeSources(t *testing.T, result *agent.ToolResult) []models.SourceRecord {
	t.Helper()
	var out struct {
		Sources []models.SourceRecord `json:"sources"`
	}
	if err := json.Unmarshal([]byte(result.Content), &out); err != nil {
		t.Fatalf("result is not JSON: %v (%s)", err, result.Content)
	}
	if out.Sources == nil {
		t.Fatalf("sources key missing or null: %s", result.Content)
	}
	return out.Sources
}

func TestTool_Execute(t *testing.T) {
	tool := New(testIndex(), Config{}, nil)

	tests := []struct {
		name        string
		params      string
		wantError   bool
		wantSources int
	}{
		{name: "matches", params: `{"query":"credit card"}`, wantSources: 2},
		{name: "no match", params: `{"query":"mortgage"}`, wantSources: 0},
		{name: "blank query", params: `{"query":"   "}`, wantError: true},
		{name: "missing query", params: `{}`, wantError: true},
		{name: "wrong type", params: `{"query":1}`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Execute(context.Background(), json.RawMessage(tt.params))
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if result.IsError != tt.wantError {
				t.Fatalf("IsError = %v, want %v (%s)", result.IsError, tt.wantError, result.Content)
			}
			if tt.wantError {
				return
			}
			if got := len(decodeSources(t, result)); got != tt.wantSources {
				t.Errorf("len(sources) = %d, want %d", got, tt.wantSources)
			}
		})
	}
}

func TestTool_ResultShapeFeedsEvidence(t *testing.T) {
	tool := New(testIndex(), Config{}, nil)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"grace period"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	history := []models.Message{
		&models.UserText{ID: "u1", Text: "grace period?"},
		&models.ToolResult{ID: "r1", CallID: "call_1", ToolName: ToolName, Content: result.Content},
	}
	sources := agent.ExtractSources(history, ToolName, nil)
	if len(sources) == 0 {
		t.Fatalf("ExtractSources() found nothing in %s", result.Content)
	}
	if sources[0].Source != "cards.pdf" || sources[0].Page != "2" {
		t.Errorf("first source = %+v", sources[0])
	}
	if !strings.Contains(result.Content, `"page":2`) {
		t.Errorf("numeric page should be emitted as a number: %s", result.Content)
	}
}

func TestTool_InternalFailureReturnsEmptySources(t *testing.T) {
	tests := []struct {
		name     string
		searcher Searcher
	}{
		{name: "panic", searcher: panickingSearcher{}},
		{name: "no corpus", searcher: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := New(tt.searcher, Config{}, nil)
			result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"cards"}`))
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if result.IsError {
				t.Fatalf("IsError = true, want empty sources: %s", result.Content)
			}
			if result.Content != `{"sources":[]}` {
				t.Errorf("Content = %s", result.Content)
			}
		})
	}
}

func TestTool_Config(t *testing.T) {
	tool := New(testIndex(), Config{Name: "bank_docs", Limit: 1, MaxContentLength: 10}, nil)
	if tool.Name() != "bank_docs" {
		t.Errorf("Name() = %q", tool.Name())
	}
	result, _ := tool.Execute(context.Background(), json.RawMessage(`{"query":"credit card"}`))
	sources := decodeSources(t, result)
	if len(sources) != 1 {
		t.Fatalf("len(sources) = %d, want 1", len(sources))
	}
	if sources[0].Content != "Credit car..." {
		t.Errorf("content = %q", sources[0].Content)
	}
}

func TestTool_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(testIndex(), Config{}, nil).Execute(ctx, json.RawMessage(`{"query":"cards"}`)); err == nil {
		t.Fatal("expected context error")
	}
}
