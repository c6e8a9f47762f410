package models

import (
	"encoding/json"
	"testing"
)

func TestLocator_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Locator
		wantErr bool
	}{
		{"number", `3`, "3", false},
		{"string", `"iv"`, "iv", false},
		{"null", `null`, "", false},
		{"float", `2.5`, "2.5", false},
		{"object", `{"p":1}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l Locator
			err := json.Unmarshal([]byte(tt.input), &l)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && l != tt.want {
				t.Errorf("Locator = %q, want %q", l, tt.want)
			}
		})
	}
}

func TestSourceRecord_JSON(t *testing.T) {
	var rec SourceRecord
	if err := json.Unmarshal([]byte(`{"source":"cards.pdf","page":4,"page_content":"Grace period 55 days"}`), &rec); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if rec.Source != "cards.pdf" || rec.Page != "4" || rec.Content != "Grace period 55 days" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	out, err := json.Marshal(SourceRecord{Source: "faq.md", Content: "x"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `{"source":"faq.md","page_content":"x"}` {
		t.Errorf("Marshal() = %s", out)
	}

	out, _ = json.Marshal(SourceRecord{Source: "a", Page: "12", Content: "b"})
	if string(out) != `{"source":"a","page":12,"page_content":"b"}` {
		t.Errorf("Marshal() with page = %s", out)
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in      string
		want    Decision
		wantErr bool
	}{
		{"approve", DecisionApprove, false},
		{" Reject ", DecisionReject, false},
		{"maybe", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDecision(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDecision(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseDecision(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInterrupt_Clone(t *testing.T) {
	orig := &Interrupt{
		ID:        "i1",
		Call:      ToolCall{ID: "c1", Name: "open_deposit", Input: json.RawMessage(`{}`)},
		Remaining: []ToolCall{{ID: "c2", Name: "rag_search"}},
		Counters:  TurnCounters{ModelCalls: 1, ToolCalls: 2, Steps: 1},
	}
	c := orig.Clone()
	c.Remaining[0].Name = "changed"
	c.Counters.ToolCalls = 9
	if orig.Remaining[0].Name != "rag_search" || orig.Counters.ToolCalls != 2 {
		t.Fatalf("clone shares state with original: %+v", orig)
	}
	var nilInterrupt *Interrupt
	if nilInterrupt.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}
