// Package tools assembles the assistant's built-in tool set.
package tools

import (
	"log/slog"

	"github.com/haasonsaas/teller/internal/agent"
	"github.com/haasonsaas/teller/internal/tools/banking"
	"github.com/haasonsaas/teller/internal/tools/currency"
	"github.com/haasonsaas/teller/internal/tools/docsearch"
)

// Options configures the built-in tools.
type Options struct {
	Searcher docsearch.Searcher
	Search   docsearch.Config
	Rates    map[string]float64
	Banking  banking.Config
	Logger   *slog.Logger
}

// Builtin returns the document search, currency and banking tools.
func Builtin(opts Options) []agent.Tool {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := []agent.Tool{
		docsearch.New(opts.Searcher, opts.Search, logger),
		currency.New(opts.Rates, logger),
	}
	return append(out, banking.Tools(opts.Banking, logger)...)
}

// NewRegistry registers the built-in tools in a fresh registry.
func NewRegistry(opts Options) *agent.ToolRegistry {
	registry := agent.NewToolRegistry()
	for _, tool := range Builtin(opts) {
		registry.Register(tool)
	}
	return registry
}
