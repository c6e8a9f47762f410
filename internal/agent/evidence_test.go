package agent

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/haasonsaas/teller/pkg/models"
)

func TestExtractSources(t *testing.T) {
	tests := []struct {
		name    string
		history []models.Message
		want    []string
	}{
		{
			name:    "empty history",
			history: nil,
			want:    nil,
		},
		{
			name: "single search",
			history: []models.Message{
				&models.UserText{Text: "terms?"},
				&models.ToolResult{ToolName: "rag_search", Content: `{"sources":[{"source":"a.pdf","page":1,"page_content":"x"}]}`},
			},
			want: []string{"a.pdf"},
		},
		{
			name: "concatenated in call order without de-duplication",
			history: []models.Message{
				&models.UserText{Text: "terms?"},
				&models.ToolResult{ToolName: "rag_search", Content: `{"sources":[{"source":"a.pdf"},{"source":"b.pdf"}]}`},
				&models.ToolResult{ToolName: "rag_search", Content: `{"sources":[{"source":"a.pdf"}]}`},
			},
			want: []string{"a.pdf", "b.pdf", "a.pdf"},
		},
		{
			name: "only the current turn",
			history: []models.Message{
				&models.UserText{Text: "first"},
				&models.ToolResult{ToolName: "rag_search", Content: `{"sources":[{"source":"old.pdf"}]}`},
				&models.AssistantText{Text: "answer"},
				&models.UserText{Text: "second"},
				&models.ToolResult{ToolName: "rag_search", Content: `{"sources":[{"source":"new.pdf"}]}`},
			},
			want: []string{"new.pdf"},
		},
		{
			name: "other tools and errors ignored",
			history: []models.Message{
				&models.UserText{Text: "q"},
				&models.ToolResult{ToolName: "currency_converter", Content: `{"sources":[{"source":"fx.pdf"}]}`},
				&models.ToolResult{ToolName: "rag_search", Content: `{"sources":[{"source":"err.pdf"}]}`, IsError: true},
				&models.ToolResult{ToolName: "rag_search", Content: "  "},
			},
			want: nil,
		},
		{
			name: "undecodable payload skipped",
			history: []models.Message{
				&models.UserText{Text: "q"},
				&models.ToolResult{ToolName: "rag_search", Content: "not json"},
				&models.ToolResult{ToolName: "rag_search", Content: `{"sources":[{"source":"ok.pdf","page":"appendix"}]}`},
			},
			want: []string{"ok.pdf"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractSources(tt.history, "", nil)
			if got == nil {
				t.Fatal("ExtractSources() returned nil, want empty slice")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractSources() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i].Source != tt.want[i] {
					t.Errorf("sources[%d] = %q, want %q", i, got[i].Source, tt.want[i])
				}
			}
		})
	}
}

func TestExtractSources_LogsBadPayload(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	history := []models.Message{
		&models.UserText{Text: "q"},
		&models.ToolResult{CallID: "call_9", ToolName: "docs", Content: "{"},
	}

	if got := ExtractSources(history, "docs", logger); len(got) != 0 {
		t.Fatalf("ExtractSources() = %v", got)
	}
	if !strings.Contains(buf.String(), "call_9") {
		t.Errorf("warning not logged: %q", buf.String())
	}
}

func TestExtractSources_PageLocator(t *testing.T) {
	history := []models.Message{
		&models.UserText{Text: "q"},
		&models.ToolResult{ToolName: "rag_search", Content: `{"sources":[{"source":"a.pdf","page":12,"page_content":"c"},{"source":"b.md","page":"intro"}]}`},
	}
	got := ExtractSources(history, "rag_search", nil)
	if len(got) != 2 {
		t.Fatalf("ExtractSources() = %v", got)
	}
	if got[0].Page != "12" || got[0].Content != "c" {
		t.Errorf("sources[0] = %+v", got[0])
	}
	if got[1].Page != "intro" {
		t.Errorf("sources[1] = %+v", got[1])
	}
}
