// Package gateway assembles the turn engine from configuration and runs it
// behind the chat front ends, the metrics endpoint and the retention job.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/teller/internal/agent"
	"github.com/haasonsaas/teller/internal/config"
	"github.com/haasonsaas/teller/internal/observability"
	"github.com/haasonsaas/teller/internal/prompts"
	"github.com/haasonsaas/teller/internal/rag"
	"github.com/haasonsaas/teller/internal/tools"
	"github.com/haasonsaas/teller/internal/tools/docsearch"
)

// RuntimeOptions supplies collaborators that are not built from config.
type RuntimeOptions struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// Provider replaces the provider selected by llm.default_provider.
	Provider agent.LLMProvider
}

// Runtime is a configured engine and the resources it owns.
type Runtime struct {
	Config  *config.Config
	Engine  *agent.Engine
	Backend *Backend
	Metrics *observability.Metrics

	// Library serves rag_search and is reloaded by /index. It is empty
	// when no corpus is configured.
	Library *rag.Library

	// Prompts is set when the system prompt comes from a file.
	Prompts *prompts.FileSource

	logger *slog.Logger
}

// NewRuntime opens the session backend, loads the corpus and builds the
// engine with the built-in tools.
func NewRuntime(ctx context.Context, cfg *config.Config, opts RuntimeOptions) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	provider := opts.Provider
	if provider == nil {
		p, err := NewProvider(cfg.LLM)
		if err != nil {
			return nil, err
		}
		provider = p
	}

	rt := &Runtime{Config: cfg, Metrics: opts.Metrics, logger: logger}

	rt.Library = rag.NewLibrary(rag.CorpusConfig{
		Path:     cfg.RAG.Path,
		Region:   cfg.RAG.Region,
		Endpoint: cfg.RAG.Endpoint,
		Splitter: rag.SplitterConfig{
			ChunkSize:    cfg.RAG.ChunkSize,
			ChunkOverlap: cfg.RAG.ChunkOverlap,
		},
	}, logger)
	if rt.Library.Configured() {
		passages, err := rt.Library.Reload(ctx)
		if err != nil {
			return nil, fmt.Errorf("load corpus: %w", err)
		}
		logger.Info("document corpus loaded", "path", cfg.RAG.Path, "passages", passages)
	} else {
		logger.Warn("no document corpus configured; rag_search will return no sources")
	}

	var source agent.PromptSource
	switch {
	case cfg.Engine.SystemPromptFile != "":
		fileSource, err := prompts.NewFileSource(cfg.Engine.SystemPromptFile, logger)
		if err != nil {
			return nil, fmt.Errorf("load system prompt: %w", err)
		}
		rt.Prompts = fileSource
		source = fileSource
	case cfg.Engine.SystemPrompt != "":
		source = prompts.Static(cfg.Engine.SystemPrompt)
	default:
		source = prompts.Static(prompts.DefaultSystemPrompt)
	}

	backend, err := OpenBackend(ctx, cfg.Session, logger)
	if err != nil {
		if rt.Prompts != nil {
			rt.Prompts.Close()
		}
		return nil, err
	}
	rt.Backend = backend

	toolOpts := tools.Options{
		Search: docsearch.Config{
			Name:             cfg.Engine.DocumentTool,
			Limit:            cfg.RAG.Limit,
			MaxContentLength: cfg.RAG.MaxContentLength,
		},
		Searcher: rt.Library,
		Logger:   logger,
	}

	engine := agent.NewEngine(provider, tools.NewRegistry(toolOpts), backend.Store, &agent.EngineConfig{
		Limits: agent.TurnLimits{
			MaxModelCalls: cfg.Engine.MaxModelCalls,
			MaxToolCalls:  cfg.Engine.MaxToolCalls,
			MaxSteps:      cfg.Engine.MaxSteps,
		},
		MaxTokens:     cfg.Engine.MaxTokens,
		ApprovalTools: cfg.Engine.ApprovalTools,
		DocumentTool:  cfg.Engine.DocumentTool,
		Executor: &agent.ExecutorConfig{
			MaxConcurrency: agent.DefaultExecutorConfig().MaxConcurrency,
			DefaultTimeout: cfg.Engine.ToolTimeout,
		},
	})
	engine.SetLocker(backend.Locker)
	engine.SetLogger(logger)
	engine.SetMetrics(opts.Metrics)
	engine.SetTracer(opts.Tracer)
	engine.SetPromptSource(source)
	rt.Engine = engine

	logger.Info("turn engine ready",
		"provider", provider.Name(),
		"session_backend", cfg.Session.Backend,
		"approval_tools", cfg.Engine.ApprovalTools)
	return rt, nil
}

// Close releases the backend and stops the prompt watcher.
func (r *Runtime) Close() error {
	var errs []error
	if r.Prompts != nil {
		errs = append(errs, r.Prompts.Close())
	}
	if r.Backend != nil {
		errs = append(errs, r.Backend.Close())
	}
	return errors.Join(errs...)
}
