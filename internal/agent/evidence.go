package agent

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/haasonsaas/teller/pkg/models"
)

// DefaultDocumentTool is the tool whose results carry source records.
const DefaultDocumentTool = "rag_search"

// documentPayload is the JSON a document search tool returns.
type documentPayload struct {
	Sources []models.SourceRecord `json:"sources"`
}

// ExtractSources collects the source records produced by documentTool during
// the current turn, which starts at the last UserText in history.
//
// Payloads that fail to decode are logged and skipped. Records from several
// calls are concatenated in call order without de-duplication.
func ExtractSources(history []models.Message, documentTool string, logger *slog.Logger) []models.SourceRecord {
	if logger == nil {
		logger = slog.Default()
	}
	if documentTool == "" {
		documentTool = DefaultDocumentTool
	}

	start := 0
	for i := len(history) - 1; i >= 0; i-- {
		if _, ok := history[i].(*models.UserText); ok {
			start = i
			break
		}
	}

	sources := make([]models.SourceRecord, 0)
	for _, msg := range history[start:] {
		res, ok := msg.(*models.ToolResult)
		if !ok || res == nil || res.ToolName != documentTool || res.IsError {
			continue
		}
		content := strings.TrimSpace(res.Content)
		if content == "" {
			continue
		}
		var payload documentPayload
		if err := json.Unmarshal([]byte(content), &payload); err != nil {
			logger.Warn("skipping undecodable document search result",
				"tool_call_id", res.CallID,
				"error", err)
			continue
		}
		sources = append(sources, payload.Sources...)
	}
	return sources
}
