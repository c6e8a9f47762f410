package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/teller/internal/observability"
	"github.com/haasonsaas/teller/internal/redact"
	"github.com/haasonsaas/teller/internal/sessions"
	"github.com/haasonsaas/teller/pkg/models"
)

// MaxResponseTextSize is the maximum size of accumulated response text (1MB).
const MaxResponseTextSize = 1 << 20

// MaxToolCallsPerResponse caps the calls accepted from a single model response.
const MaxToolCallsPerResponse = 100

// EngineConfig configures the turn engine.
type EngineConfig struct {
	// Limits bounds each turn
	Limits TurnLimits

	// Model is passed to the provider; empty selects the provider default
	Model string

	// MaxTokens is the max tokens for model responses
	// Default: 1024
	MaxTokens int

	// System is the static system prompt, used when no PromptSource is set
	System string

	// ApprovalTools lists tool names or patterns that pause for a human
	// decision. Nil selects DefaultApprovalTools; an empty slice disables
	// approvals.
	ApprovalTools []string

	// DocumentTool names the tool whose results carry source records
	// Default: rag_search
	DocumentTool string

	// Executor configures tool timeouts and concurrency
	Executor *ExecutorConfig
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Limits:        DefaultTurnLimits(),
		MaxTokens:     1024,
		ApprovalTools: append([]string(nil), DefaultApprovalTools...),
		DocumentTool:  DefaultDocumentTool,
		Executor:      DefaultExecutorConfig(),
	}
}

func sanitizeEngineConfig(config *EngineConfig) *EngineConfig {
	defaults := DefaultEngineConfig()
	if config == nil {
		return defaults
	}
	cfg := *config
	cfg.Limits = sanitizeTurnLimits(cfg.Limits)
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.ApprovalTools == nil {
		cfg.ApprovalTools = defaults.ApprovalTools
	}
	if strings.TrimSpace(cfg.DocumentTool) == "" {
		cfg.DocumentTool = defaults.DocumentTool
	}
	if cfg.Executor == nil {
		cfg.Executor = defaults.Executor
	}
	return &cfg
}

// PromptSource supplies the current system prompt.
type PromptSource interface {
	SystemPrompt() string
}

// Engine drives conversational turns.
//
// A turn is a bounded state machine:
//
//	            ┌────────────── tool results ─────────────┐
//	            ▼                                          │
//	user ──▶ RUNNING ──▶ model call ──▶ tool calls? ──yes──┤
//	            │                           │              │
//	            │                           no       privileged call
//	            │                           ▼              ▼
//	       limit exceeded                  DONE     AWAITING_APPROVAL
//	            ▼                                          │
//	          FAILED                     ResumeTurn ◀──────┘
//
// Every append goes to the checkpoint store as it happens, so an interrupted
// turn leaves history exactly as it was after the last completed append.
// Turns of one conversation are serialized by the Locker; different
// conversations run independently.
type Engine struct {
	provider LLMProvider
	registry *ToolRegistry
	executor *Executor
	store    sessions.Store
	locker   sessions.Locker
	approval *ApprovalPolicy
	config   *EngineConfig

	prompts PromptSource
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewEngine creates a turn engine. A nil registry starts empty, a nil store
// selects an in-memory store, and a nil config uses DefaultEngineConfig.
func NewEngine(provider LLMProvider, registry *ToolRegistry, store sessions.Store, config *EngineConfig) *Engine {
	config = sanitizeEngineConfig(config)
	if registry == nil {
		registry = NewToolRegistry()
	}
	if store == nil {
		store = sessions.NewMemoryStore()
	}

	return &Engine{
		provider: provider,
		registry: registry,
		executor: NewExecutor(registry, config.Executor),
		store:    store,
		locker:   sessions.NewLocalLocker(),
		approval: NewApprovalPolicy(config.ApprovalTools),
		config:   config,
		logger:   slog.Default(),
	}
}

// SetLocker replaces the in-process conversation locker, e.g. with a
// database or Redis lease lock when several replicas share a store.
func (e *Engine) SetLocker(locker sessions.Locker) {
	if locker != nil {
		e.locker = locker
	}
}

// SetLogger sets the logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetMetrics enables Prometheus metrics.
func (e *Engine) SetMetrics(metrics *observability.Metrics) {
	e.metrics = metrics
}

// SetTracer enables tracing.
func (e *Engine) SetTracer(tracer *observability.Tracer) {
	e.tracer = tracer
}

// SetPromptSource sets a dynamic system prompt source.
func (e *Engine) SetPromptSource(src PromptSource) {
	e.prompts = src
}

// ConfigureTool sets per-tool execution overrides.
func (e *Engine) ConfigureTool(name string, config *ToolConfig) {
	e.executor.ConfigureTool(name, config)
}

// Registry returns the tool registry.
func (e *Engine) Registry() *ToolRegistry {
	return e.registry
}

// Limits returns the configured turn limits.
func (e *Engine) Limits() TurnLimits {
	return e.config.Limits
}

// ExecutorMetrics returns executor counters.
func (e *Engine) ExecutorMetrics() *ExecutorMetricsSnapshot {
	return e.executor.Metrics()
}

// RunTurn runs one turn for userText.
//
// Bounded failures (limits, empty model output) come back as a TurnResult.
// Errors are reserved for protocol violations (ErrInterruptPending,
// ErrNoValidMessages, ErrEmptyInput), cancellation, and fatal provider or
// store failures wrapped in *LoopError.
func (e *Engine) RunTurn(ctx context.Context, conversationID, userText string) (*TurnResult, error) {
	if e.provider == nil {
		return nil, ErrNoProvider
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	if strings.TrimSpace(userText) == "" {
		return nil, ErrEmptyInput
	}

	ctx = observability.AddConversationID(ctx, conversationID)
	ctx, span := e.tracer.Start(ctx, "engine.run_turn", attribute.String("conversation.id", conversationID))
	defer span.End()

	unlock, err := e.lock(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := e.store.GetInterrupt(ctx, conversationID); err == nil {
		return nil, ErrInterruptPending
	} else if !errors.Is(err, sessions.ErrNotFound) {
		return nil, &LoopError{Phase: PhaseInit, Message: "failed to read interrupt", Cause: err}
	}

	history, err := e.loadHistory(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	state := newTurnState(conversationID, history, models.TurnCounters{})
	user := &models.UserText{ID: uuid.NewString(), Text: userText, CreatedAt: time.Now()}
	if err := e.appendMessages(ctx, state, PhaseInit, user); err != nil {
		return nil, err
	}

	result, err := e.runLoop(ctx, state)
	e.observeTurn(ctx, span, state, result, err)
	return result, err
}

// Reset deletes the conversation history and any pending interrupt.
func (e *Engine) Reset(ctx context.Context, conversationID string) error {
	unlock, err := e.lock(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.store.Reset(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to reset conversation: %w", err)
	}
	e.logger.InfoContext(ctx, "conversation reset", "conversation_id", conversationID)
	return nil
}

// PendingInterrupt returns the outstanding interrupt, or nil.
func (e *Engine) PendingInterrupt(ctx context.Context, conversationID string) (*models.Interrupt, error) {
	interrupt, err := e.store.GetInterrupt(ctx, conversationID)
	if errors.Is(err, sessions.ErrNotFound) {
		return nil, nil
	}
	return interrupt, err
}

// runLoop drives the state machine until the turn finishes, fails on a
// limit, or pauses for approval.
func (e *Engine) runLoop(ctx context.Context, state *turnState) (*TurnResult, error) {
	limits := e.config.Limits

	for {
		state.counters.Steps++
		if !limits.allowsStep(state.counters) {
			state.counters.Steps--
			return e.fail(ctx, state, LimitSteps)
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !limits.allowsModelCall(state.counters) {
			return e.fail(ctx, state, LimitModelCalls)
		}
		state.counters.ModelCalls++

		text, calls, err := e.complete(ctx, state)
		if err != nil {
			return nil, err
		}

		if len(calls) == 0 {
			return e.done(ctx, state, text)
		}

		if !limits.allowsToolBatch(state.counters, len(calls)) {
			e.logger.WarnContext(ctx, "tool call limit reached",
				"requested", len(calls),
				"tool_calls", state.counters.ToolCalls,
				"max_tool_calls", limits.MaxToolCalls)
			return e.fail(ctx, state, LimitToolCalls)
		}

		request := &models.AssistantToolRequest{
			ID:        uuid.NewString(),
			Text:      text,
			Calls:     calls,
			CreatedAt: time.Now(),
		}
		if err := e.appendMessages(ctx, state, PhaseExecuteTools, request); err != nil {
			return nil, err
		}

		interrupt, err := e.executeCalls(ctx, state, calls)
		if err != nil {
			return nil, err
		}
		if interrupt != nil {
			return e.paused(state, interrupt), nil
		}
	}
}

// complete performs one model call over the repaired history and collects
// the streamed response.
func (e *Engine) complete(ctx context.Context, state *turnState) (string, []models.ToolCall, error) {
	messages := repairTranscript(state.history)
	if len(messages) == 0 {
		return "", nil, ErrNoValidMessages
	}

	req := &CompletionRequest{
		Model:     e.config.Model,
		System:    e.systemPrompt(),
		Messages:  messages,
		Tools:     e.registry.AsLLMTools(),
		MaxTokens: e.config.MaxTokens,
	}

	ctx, span := e.tracer.TraceLLMRequest(ctx, e.provider.Name(), req.Model)
	defer span.End()

	start := time.Now()
	text, calls, err := e.collect(ctx, req)
	outcome := "success"
	if err != nil {
		outcome = "error"
		e.tracer.RecordError(span, err)
	}
	e.metrics.RecordModelCall(e.provider.Name(), outcome, time.Since(start))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", nil, ctxErr
		}
		return "", nil, &LoopError{Phase: PhaseStream, Iteration: state.counters.Steps, Cause: err}
	}

	e.logger.DebugContext(ctx, "model responded",
		"step", state.counters.Steps,
		"tool_calls", len(calls),
		"text_bytes", len(text))
	return text, calls, nil
}

func (e *Engine) collect(ctx context.Context, req *CompletionRequest) (string, []models.ToolCall, error) {
	completion, err := e.provider.Complete(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var toolCalls []models.ToolCall
	var textBuilder strings.Builder

	for {
		var chunk *CompletionChunk
		var ok bool
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case chunk, ok = <-completion:
		}
		if !ok {
			break
		}
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return "", nil, chunk.Error
		}
		if chunk.Text != "" {
			if textBuilder.Len()+len(chunk.Text) > MaxResponseTextSize {
				return "", nil, fmt.Errorf("response text exceeds maximum size of %d bytes", MaxResponseTextSize)
			}
			textBuilder.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			if len(toolCalls) >= MaxToolCallsPerResponse {
				return "", nil, fmt.Errorf("tool calls exceed maximum of %d per response", MaxToolCallsPerResponse)
			}
			call := models.CloneToolCalls([]models.ToolCall{*chunk.ToolCall})[0]
			if call.ID == "" {
				call.ID = "call_" + uuid.NewString()
			}
			call.Input = normalizeToolInput(call.Input)
			toolCalls = append(toolCalls, call)
		}
		if chunk.Done {
			break
		}
	}

	return textBuilder.String(), toolCalls, nil
}

// executeCalls runs calls in order. A privileged call stops the batch and
// records an interrupt holding the rest of it.
func (e *Engine) executeCalls(ctx context.Context, state *turnState, calls []models.ToolCall) (*models.Interrupt, error) {
	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		state.counters.ToolCalls++

		if raw, bad := malformedToolInput(call.Input); bad {
			e.metrics.RecordToolCall(call.Name, "error", 0)
			e.logger.WarnContext(ctx, "tool call with malformed arguments",
				"tool", call.Name,
				"tool_call_id", call.ID,
				"bytes", len(raw))
			if err := e.appendMessages(ctx, state, PhaseExecuteTools, invalidArgumentsResult(call, raw)); err != nil {
				return nil, err
			}
			continue
		}

		if e.approval.RequiresApproval(call.Name) {
			interrupt := &models.Interrupt{
				ID:             uuid.NewString(),
				ConversationID: state.conversationID,
				Call:           call,
				Remaining:      models.CloneToolCalls(calls[i+1:]),
				Counters:       state.counters,
				CreatedAt:      time.Now(),
			}
			if err := e.store.SetInterrupt(ctx, interrupt); err != nil {
				return nil, &LoopError{Phase: PhaseExecuteTools, Iteration: state.counters.Steps, Message: "failed to record interrupt", Cause: err}
			}
			e.metrics.RecordInterrupt(call.Name)
			e.logger.InfoContext(ctx, "tool call awaiting approval",
				"tool", call.Name,
				"tool_call_id", call.ID,
				"interrupt_id", interrupt.ID)
			return interrupt, nil
		}

		result, err := e.invoke(ctx, call)
		if err != nil {
			return nil, err
		}
		if err := e.appendMessages(ctx, state, PhaseExecuteTools, result); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// invoke executes a single tool call. A cancelled context discards the
// result so nothing partial reaches history.
func (e *Engine) invoke(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
	result, _ := e.execute(ctx, call)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// invokeApproved runs an approved privileged call. A result the tool
// returned is kept even if ctx ended meanwhile, so the caller can record it
// rather than leave the interrupt for a second approve to repeat. Only a
// call aborted by the cancellation yields ctx.Err().
func (e *Engine) invokeApproved(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
	result, exec := e.execute(ctx, call)
	if err := ctx.Err(); err != nil {
		if toolErr, ok := GetToolError(exec.Error); ok && toolErr.Type == ToolErrorCancelled {
			return nil, err
		}
	}
	return result, nil
}

func (e *Engine) execute(ctx context.Context, call models.ToolCall) (*models.ToolResult, *ExecutionResult) {
	ctx, span := e.tracer.TraceToolExecution(ctx, call.Name, call.ID)
	defer span.End()

	exec := e.executor.Execute(ctx, call)
	content, isError := exec.Content()
	outcome := "success"
	if isError {
		outcome = "error"
		if exec.Error != nil {
			e.tracer.RecordError(span, exec.Error)
		}
	}
	e.metrics.RecordToolCall(call.Name, outcome, exec.Duration)
	e.logger.DebugContext(ctx, "tool executed",
		"tool", call.Name,
		"tool_call_id", call.ID,
		"is_error", isError,
		"duration", exec.Duration)

	return &models.ToolResult{
		ID:        uuid.NewString(),
		CallID:    call.ID,
		ToolName:  call.Name,
		Content:   content,
		IsError:   isError,
		CreatedAt: time.Now(),
	}, exec
}

// done finishes the turn with the model's answer.
func (e *Engine) done(ctx context.Context, state *turnState, text string) (*TurnResult, error) {
	answer := strings.TrimSpace(text)
	if answer == "" {
		e.logger.WarnContext(ctx, "model returned an empty answer")
		answer = EmptyAnswerMessage
	}
	msg := &models.AssistantText{ID: uuid.NewString(), Text: answer, CreatedAt: time.Now()}
	if err := e.appendMessages(ctx, state, PhaseComplete, msg); err != nil {
		return nil, err
	}

	masked := redact.MaskCardNumbers(answer)
	state.status = StatusDone
	return e.result(state, &masked, "", nil), nil
}

// fail ends the turn on a limit with a bounded answer. The answer is
// recorded so the next turn sees a coherent transcript.
func (e *Engine) fail(ctx context.Context, state *turnState, kind LimitKind) (*TurnResult, error) {
	answer := e.config.Limits.boundedMessage(kind)
	msg := &models.AssistantText{ID: uuid.NewString(), Text: answer, CreatedAt: time.Now()}
	if err := e.appendMessages(ctx, state, PhaseComplete, msg); err != nil {
		return nil, err
	}
	state.status = StatusFailed
	return e.result(state, &answer, kind, nil), nil
}

func (e *Engine) paused(state *turnState, interrupt *models.Interrupt) *TurnResult {
	state.status = StatusAwaitingApproval
	return e.result(state, nil, "", interrupt.Clone())
}

func (e *Engine) result(state *turnState, answer *string, limit LimitKind, interrupt *models.Interrupt) *TurnResult {
	return &TurnResult{
		ConversationID: state.conversationID,
		Status:         state.status,
		Answer:         answer,
		Limit:          limit,
		Sources:        ExtractSources(state.history, e.config.DocumentTool, e.logger),
		Interrupt:      interrupt,
		Counters:       state.counters,
	}
}

func (e *Engine) appendMessages(ctx context.Context, state *turnState, phase LoopPhase, msgs ...models.Message) error {
	if err := e.store.Append(ctx, state.conversationID, msgs...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &LoopError{Phase: phase, Iteration: state.counters.Steps, Message: "failed to persist message", Cause: err}
	}
	state.history = append(state.history, msgs...)
	return nil
}

func (e *Engine) loadHistory(ctx context.Context, conversationID string) ([]models.Message, error) {
	conv, err := e.store.Load(ctx, conversationID)
	if errors.Is(err, sessions.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &LoopError{Phase: PhaseInit, Message: "failed to load history", Cause: err}
	}
	return conv.Messages, nil
}

func (e *Engine) systemPrompt() string {
	if e.prompts != nil {
		if prompt := e.prompts.SystemPrompt(); prompt != "" {
			return prompt
		}
	}
	return e.config.System
}

func (e *Engine) lock(ctx context.Context, conversationID string) (func(), error) {
	if err := e.locker.Lock(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("failed to lock conversation: %w", err)
	}
	return func() { e.locker.Unlock(conversationID) }, nil
}

func (e *Engine) observeTurn(ctx context.Context, span observability.Span, state *turnState, result *TurnResult, err error) {
	status := string(state.status)
	if err != nil {
		status = "error"
		e.tracer.RecordError(span, err)
		e.logger.ErrorContext(ctx, "turn failed", "error", err)
	}
	span.SetAttributes(
		attribute.String("turn.status", status),
		attribute.Int("turn.model_calls", state.counters.ModelCalls),
		attribute.Int("turn.tool_calls", state.counters.ToolCalls),
		attribute.Int("turn.steps", state.counters.Steps),
	)
	e.metrics.RecordTurn(status, time.Since(state.startedAt))
	if result != nil {
		e.logger.InfoContext(ctx, "turn finished",
			"status", result.Status,
			"model_calls", result.Counters.ModelCalls,
			"tool_calls", result.Counters.ToolCalls,
			"steps", result.Counters.Steps,
			"sources", len(result.Sources))
	}
}
