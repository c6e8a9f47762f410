package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects turn engine and transport metrics.
//
// All Record* methods are safe on a nil *Metrics, so components can run
// without metrics wired.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordTurn("done", time.Since(start))
type Metrics struct {
	// TurnCounter counts finished turns.
	// Labels: status (done|failed|awaiting_approval|error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures turn wall time in seconds.
	// Labels: status
	TurnDuration *prometheus.HistogramVec

	// ModelCallCounter counts model invocations.
	// Labels: provider, status (success|error)
	ModelCallCounter *prometheus.CounterVec

	// ModelCallDuration measures model latency in seconds.
	// Labels: provider
	ModelCallDuration *prometheus.HistogramVec

	// ToolCallCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolCallDuration *prometheus.HistogramVec

	// InterruptCounter counts turns paused for approval.
	// Labels: tool_name
	InterruptCounter *prometheus.CounterVec

	// DecisionCounter counts human decisions on paused calls.
	// Labels: decision (approve|reject)
	DecisionCounter *prometheus.CounterVec

	// MessageCounter tracks transport messages.
	// Labels: channel, direction (inbound|outbound)
	MessageCounter *prometheus.CounterVec

	// PrunedConversations counts conversations removed by retention.
	PrunedConversations prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teller_turns_total",
				Help: "Total number of conversation turns by final status",
			},
			[]string{"status"},
		),

		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "teller_turn_duration_seconds",
				Help:    "Duration of conversation turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),

		ModelCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teller_model_calls_total",
				Help: "Total number of model calls by provider and status",
			},
			[]string{"provider", "status"},
		),

		ModelCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "teller_model_call_duration_seconds",
				Help:    "Duration of model calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),

		ToolCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teller_tool_calls_total",
				Help: "Total number of tool calls by tool and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "teller_tool_call_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),

		InterruptCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teller_interrupts_total",
				Help: "Total number of turns paused for approval by tool",
			},
			[]string{"tool_name"},
		),

		DecisionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teller_approval_decisions_total",
				Help: "Total number of approval decisions",
			},
			[]string{"decision"},
		),

		MessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teller_messages_total",
				Help: "Total number of transport messages by channel and direction",
			},
			[]string{"channel", "direction"},
		),

		PrunedConversations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "teller_pruned_conversations_total",
				Help: "Total number of conversations removed by retention",
			},
		),
	}
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnCounter.WithLabelValues(status).Inc()
	m.TurnDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordModelCall records one model invocation.
func (m *Metrics) RecordModelCall(provider, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ModelCallCounter.WithLabelValues(provider, status).Inc()
	m.ModelCallDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(toolName, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallCounter.WithLabelValues(toolName, status).Inc()
	m.ToolCallDuration.WithLabelValues(toolName).Observe(d.Seconds())
}

// RecordInterrupt records a turn paused on toolName.
func (m *Metrics) RecordInterrupt(toolName string) {
	if m == nil {
		return
	}
	m.InterruptCounter.WithLabelValues(toolName).Inc()
}

// RecordDecision records an approve or reject decision.
func (m *Metrics) RecordDecision(decision string) {
	if m == nil {
		return
	}
	m.DecisionCounter.WithLabelValues(decision).Inc()
}

// MessageReceived records an inbound transport message.
func (m *Metrics) MessageReceived(channel string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(channel, "inbound").Inc()
}

// MessageSent records an outbound transport message.
func (m *Metrics) MessageSent(channel string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(channel, "outbound").Inc()
}

// RecordPruned records conversations removed by retention.
func (m *Metrics) RecordPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.PrunedConversations.Add(float64(n))
}
