package agent

import (
	"strings"

	"github.com/haasonsaas/teller/pkg/models"
)

// repairTranscript converts stored history into provider messages, dropping
// anything a provider would reject: nil or blank entries, tool results with
// no matching request, and requested calls that never got a result (for
// example after a cancelled turn or a reset interrupt). Consecutive results
// for one request are grouped into a single "tool" message.
//
// The stored history is never modified; repair only shapes what the model
// sees.
func repairTranscript(history []models.Message) []CompletionMessage {
	repaired := make([]CompletionMessage, 0, len(history))

	var (
		request *models.AssistantToolRequest
		pending map[string]struct{}
		results []models.ToolResult
	)

	flush := func() {
		if request == nil {
			return
		}
		answered := make(map[string]struct{}, len(results))
		for _, r := range results {
			answered[r.CallID] = struct{}{}
		}
		calls := make([]models.ToolCall, 0, len(request.Calls))
		for _, c := range request.Calls {
			if _, ok := answered[c.ID]; ok {
				calls = append(calls, c)
			}
		}
		text := strings.TrimSpace(request.Text)
		switch {
		case len(calls) > 0:
			repaired = append(repaired, CompletionMessage{Role: "assistant", Content: request.Text, ToolCalls: calls})
			repaired = append(repaired, CompletionMessage{Role: "tool", ToolResults: results})
		case text != "":
			repaired = append(repaired, CompletionMessage{Role: "assistant", Content: request.Text})
		}
		request, pending, results = nil, nil, nil
	}

	for _, msg := range history {
		switch m := msg.(type) {
		case *models.UserText:
			flush()
			if m == nil || strings.TrimSpace(m.Text) == "" {
				continue
			}
			repaired = append(repaired, CompletionMessage{Role: "user", Content: m.Text})
		case *models.AssistantText:
			flush()
			if m == nil || strings.TrimSpace(m.Text) == "" {
				continue
			}
			repaired = append(repaired, CompletionMessage{Role: "assistant", Content: m.Text})
		case *models.AssistantToolRequest:
			flush()
			if m == nil {
				continue
			}
			request = m
			pending = make(map[string]struct{}, len(m.Calls))
			for _, c := range m.Calls {
				if c.ID != "" {
					pending[c.ID] = struct{}{}
				}
			}
		case *models.ToolResult:
			if m == nil || request == nil {
				continue
			}
			if _, ok := pending[m.CallID]; !ok {
				continue
			}
			delete(pending, m.CallID)
			results = append(results, *m)
		default:
			// nil or unknown variant
			continue
		}
	}
	flush()

	return repaired
}
