package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/teller/pkg/models"
)

// rawArgumentsKey wraps tool arguments that were not valid JSON. The wrapped
// input is itself valid JSON, so the call can be stored and replayed to any
// provider, and the loop answers it with an error result instead of running
// the tool.
const rawArgumentsKey = "_raw_arguments"

// maxEchoedArguments bounds how much of a malformed input is echoed back to
// the model.
const maxEchoedArguments = 512

// normalizeToolInput returns input unchanged when it is empty or valid JSON,
// and the wrapped form otherwise.
func normalizeToolInput(input json.RawMessage) json.RawMessage {
	if len(input) == 0 || json.Valid(input) {
		return input
	}
	wrapped, _ := json.Marshal(map[string]string{rawArgumentsKey: string(input)})
	return wrapped
}

// malformedToolInput reports whether input is the wrapped form and returns
// the original text.
func malformedToolInput(input json.RawMessage) (string, bool) {
	if len(input) == 0 || input[0] != '{' {
		return "", false
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(input, &wrapped); err != nil || len(wrapped) != 1 {
		return "", false
	}
	value, ok := wrapped[rawArgumentsKey]
	if !ok {
		return "", false
	}
	var raw string
	if err := json.Unmarshal(value, &raw); err != nil {
		return "", false
	}
	return raw, true
}

func invalidArgumentsResult(call models.ToolCall, raw string) *models.ToolResult {
	if len(raw) > maxEchoedArguments {
		raw = raw[:maxEchoedArguments] + "..."
	}
	return &models.ToolResult{
		ID:        uuid.NewString(),
		CallID:    call.ID,
		ToolName:  call.Name,
		Content:   fmt.Sprintf("invalid arguments for %s: not valid JSON: %s", call.Name, raw),
		IsError:   true,
		CreatedAt: time.Now(),
	}
}
