// Package docsearch exposes the bank's document corpus to the model as the
// rag_search tool.
package docsearch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/haasonsaas/teller/internal/agent"
	"github.com/haasonsaas/teller/internal/rag"
	"github.com/haasonsaas/teller/internal/tools/schema"
	"github.com/haasonsaas/teller/pkg/models"
)

// ToolName is the name the model calls the tool by.
const ToolName = agent.DefaultDocumentTool

// Searcher ranks corpus passages against a query.
type Searcher interface {
	Search(query string, limit int) []rag.Result
}

// Config configures the search tool.
type Config struct {
	// Name overrides the tool name.
	// Default: rag_search
	Name string

	// Limit is the number of passages returned per query.
	// Default: 4
	Limit int

	// MaxContentLength truncates each passage to this many runes.
	// 0 means no truncation.
	MaxContentLength int
}

// DefaultConfig returns the default search tool configuration.
func DefaultConfig() Config {
	return Config{
		Name:  ToolName,
		Limit: 4,
	}
}

type searchInput struct {
	Query string `json:"query" jsonschema_description:"What to look up in the bank's product and tariff documents"`
}

var inputSchema = schema.Must[searchInput]("rag_search")

// Tool implements agent.Tool over a Searcher.
type Tool struct {
	searcher Searcher
	config   Config
	logger   *slog.Logger
}

// New creates the search tool. Zero config fields take their defaults.
func New(searcher Searcher, cfg Config, logger *slog.Logger) *Tool {
	defaults := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaults.Limit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{
		searcher: searcher,
		config:   cfg,
		logger:   logger.With("tool", cfg.Name),
	}
}

// Name returns the tool name.
func (t *Tool) Name() string { return t.config.Name }

// Description returns the tool description.
func (t *Tool) Description() string {
	return "Searches the bank's documents (card terms, deposit conditions, tariffs, FAQ) and returns the most relevant passages with their source. Use it before answering any question about bank products."
}

// Schema returns the JSON schema for tool parameters.
func (t *Tool) Schema() json.RawMessage { return inputSchema.JSON() }

type output struct {
	Sources []models.SourceRecord `json:"sources"`
}

// Execute searches the corpus. Invalid arguments produce an error result;
// failures inside the search produce an empty source list so the model can
// still answer.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	input, err := inputSchema.Decode(params)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return &agent.ToolResult{Content: "query is required", IsError: true}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := t.search(query)
	out := output{Sources: make([]models.SourceRecord, 0, len(results))}
	for _, r := range results {
		out.Sources = append(out.Sources, models.SourceRecord{
			Source:  r.Source,
			Page:    models.Locator(r.Page),
			Content: truncate(r.Content, t.config.MaxContentLength),
		})
	}

	payload, err := json.Marshal(out)
	if err != nil {
		t.logger.Error("encode search results", "error", err)
		return &agent.ToolResult{Content: `{"sources":[]}`}, nil
	}
	t.logger.Debug("search complete", "query_len", len(query), "sources", len(out.Sources))
	return &agent.ToolResult{Content: string(payload)}, nil
}

func (t *Tool) search(query string) (results []rag.Result) {
	if t.searcher == nil {
		t.logger.Warn("search requested without a corpus")
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("search panicked", "panic", r)
			results = nil
		}
	}()
	return t.searcher.Search(query, t.config.Limit)
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
