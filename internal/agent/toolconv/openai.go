// Package toolconv converts agent tools into provider SDK tool definitions.
package toolconv

import (
	"encoding/json"

	"github.com/haasonsaas/teller/internal/agent"
	openai "github.com/sashabaranov/go-openai"
)

// objectSchema decodes a tool's parameter schema. Schemas that are not JSON
// objects degrade to an empty object schema so one bad tool does not break the
// whole request.
func objectSchema(tool agent.Tool) map[string]any {
	var schema map[string]any
	if err := json.Unmarshal(tool.Schema(), &schema); err != nil || schema == nil {
		schema = map[string]any{}
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return schema
}

// ToOpenAITools converts internal tool definitions to OpenAI function schema.
func ToOpenAITools(tools []agent.Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  objectSchema(tool),
			},
		}
	}
	return result
}
