package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordTurn("done", time.Second)
	m.RecordModelCall("openai", "success", 200*time.Millisecond)
	m.RecordToolCall("rag_search", "success", 10*time.Millisecond)
	m.RecordInterrupt("open_credit_card")
	m.RecordDecision("approve")
	m.MessageReceived("telegram")
	m.MessageSent("telegram")
	m.RecordPruned(3)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"teller_turns_total",
		"teller_turn_duration_seconds",
		"teller_model_calls_total",
		"teller_model_call_duration_seconds",
		"teller_tool_calls_total",
		"teller_tool_call_duration_seconds",
		"teller_interrupts_total",
		"teller_approval_decisions_total",
		"teller_messages_total",
		"teller_pruned_conversations_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestRecordTurn(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordTurn("done", time.Second)
	m.RecordTurn("done", time.Second)
	m.RecordTurn("awaiting_approval", time.Second)

	expected := `
		# HELP teller_turns_total Total number of conversation turns by final status
		# TYPE teller_turns_total counter
		teller_turns_total{status="awaiting_approval"} 1
		teller_turns_total{status="done"} 2
	`
	if err := testutil.CollectAndCompare(m.TurnCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
	if count := testutil.CollectAndCount(m.TurnDuration); count != 2 {
		t.Errorf("expected 2 duration series, got %d", count)
	}
}

func TestMessageCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.MessageReceived("telegram")
	m.MessageReceived("telegram")
	m.MessageSent("cli")

	if got := testutil.ToFloat64(m.MessageCounter.WithLabelValues("telegram", "inbound")); got != 2 {
		t.Errorf("telegram inbound = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.MessageCounter.WithLabelValues("cli", "outbound")); got != 1 {
		t.Errorf("cli outbound = %v, want 1", got)
	}
}

func TestApprovalMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordInterrupt("open_deposit")
	m.RecordDecision("reject")
	m.RecordDecision("reject")

	if got := testutil.ToFloat64(m.InterruptCounter.WithLabelValues("open_deposit")); got != 1 {
		t.Errorf("interrupts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DecisionCounter.WithLabelValues("reject")); got != 2 {
		t.Errorf("reject decisions = %v, want 2", got)
	}
}

func TestRecordPruned_IgnoresNonPositive(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordPruned(0)
	m.RecordPruned(-1)
	m.RecordPruned(4)

	if got := testutil.ToFloat64(m.PrunedConversations); got != 4 {
		t.Errorf("pruned = %v, want 4", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordTurn("done", time.Second)
	m.RecordModelCall("openai", "error", time.Second)
	m.RecordToolCall("rag_search", "error", time.Second)
	m.RecordInterrupt("open_deposit")
	m.RecordDecision("approve")
	m.MessageReceived("telegram")
	m.MessageSent("telegram")
	m.RecordPruned(1)
}
