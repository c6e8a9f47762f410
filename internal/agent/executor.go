package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/haasonsaas/teller/pkg/models"
)

// ExecutorConfig configures tool execution limits.
type ExecutorConfig struct {
	// MaxConcurrency limits tool executions in flight across all turns
	// Default: 8
	MaxConcurrency int

	// DefaultTimeout is the default timeout for tool execution
	// Default: 30s
	DefaultTimeout time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency: 8,
		DefaultTimeout: 30 * time.Second,
	}
}

// ToolConfig holds per-tool overrides.
type ToolConfig struct {
	// Timeout overrides the default timeout for this tool
	Timeout time.Duration
}

// Executor runs single tool calls with a timeout, panic recovery and a
// process-wide concurrency cap. It does not retry: a failed call becomes an
// error result and the model decides what to do next.
type Executor struct {
	registry   *ToolRegistry
	config     *ExecutorConfig
	toolConfig map[string]*ToolConfig
	mu         sync.RWMutex

	sem chan struct{}

	metrics *ExecutorMetrics
}

// ExecutorMetrics tracks executor counters.
type ExecutorMetrics struct {
	mu              sync.Mutex
	TotalExecutions int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// NewExecutor creates a tool executor over registry.
// If config is nil, DefaultExecutorConfig is used.
func NewExecutor(registry *ToolRegistry, config *ExecutorConfig) *Executor {
	defaults := DefaultExecutorConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaults.MaxConcurrency
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaults.DefaultTimeout
	}
	if registry == nil {
		registry = NewToolRegistry()
	}

	return &Executor{
		registry:   registry,
		config:     &cfg,
		toolConfig: make(map[string]*ToolConfig),
		sem:        make(chan struct{}, cfg.MaxConcurrency),
		metrics:    &ExecutorMetrics{},
	}
}

// ConfigureTool sets per-tool configuration overrides for the named tool.
func (e *Executor) ConfigureTool(name string, config *ToolConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toolConfig[name] = config
}

func (e *Executor) timeoutFor(name string) time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if tc, ok := e.toolConfig[name]; ok && tc != nil && tc.Timeout > 0 {
		return tc.Timeout
	}
	return e.config.DefaultTimeout
}

// ExecutionResult holds the result of a single tool execution.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     *ToolResult
	Error      error
	Duration   time.Duration
}

// Content returns the text the model should see and whether it is an error.
func (r *ExecutionResult) Content() (string, bool) {
	switch {
	case r.Error != nil:
		return r.Error.Error(), true
	case r.Result != nil:
		return r.Result.Content, r.Result.IsError
	default:
		return "tool returned no result", true
	}
}

// Execute runs one tool call. Failures are reported in the result, never as
// a panic or a hang past the configured timeout.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		result.Error = NewToolError(call.Name, ctx.Err()).
			WithType(ToolErrorCancelled).
			WithToolCallID(call.ID)
		result.Duration = time.Since(start)
		return result
	}

	timeout := e.timeoutFor(call.Name)
	res, err := e.executeWithTimeout(ctx, call, timeout)
	result.Result = res
	result.Error = err
	result.Duration = time.Since(start)

	e.metrics.mu.Lock()
	e.metrics.TotalExecutions++
	if err != nil {
		e.metrics.TotalFailures++
		if toolErr, ok := GetToolError(err); ok {
			switch toolErr.Type {
			case ToolErrorTimeout:
				e.metrics.TotalTimeouts++
			case ToolErrorPanic:
				e.metrics.TotalPanics++
			}
		}
	}
	e.metrics.mu.Unlock()

	return result
}

func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall, timeout time.Duration) (*ToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execResult struct {
		result *ToolResult
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				err := NewToolError(call.Name, fmt.Errorf("%w: %v\n%s", ErrToolPanic, r, stack)).
					WithType(ToolErrorPanic).
					WithToolCallID(call.ID).
					WithMessage(fmt.Sprintf("panic: %v", r))
				resultCh <- execResult{err: err}
			}
		}()

		result, err := e.registry.Execute(execCtx, call.Name, call.Input)
		if err != nil {
			resultCh <- execResult{err: NewToolError(call.Name, err).WithToolCallID(call.ID)}
			return
		}
		resultCh <- execResult{result: result}
	}()

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorCancelled).
				WithToolCallID(call.ID).
				WithMessage("context cancelled")
		}
		return nil, NewToolError(call.Name, ErrToolTimeout).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID).
			WithMessage(fmt.Sprintf("execution timed out after %s", timeout))
	}
}

// Metrics returns a snapshot of the executor counters.
func (e *Executor) Metrics() *ExecutorMetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return &ExecutorMetricsSnapshot{
		TotalExecutions: e.metrics.TotalExecutions,
		TotalFailures:   e.metrics.TotalFailures,
		TotalTimeouts:   e.metrics.TotalTimeouts,
		TotalPanics:     e.metrics.TotalPanics,
	}
}

// ExecutorMetricsSnapshot is a thread-safe copy of executor metrics at a point in time.
type ExecutorMetricsSnapshot struct {
	TotalExecutions int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}
