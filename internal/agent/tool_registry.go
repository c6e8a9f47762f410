package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	// MaxToolNameLength bounds the tool names a model may request.
	MaxToolNameLength = 256

	// MaxToolParamsSize bounds a single tool input (1 MiB).
	MaxToolParamsSize = 1 << 20
)

// ToolRegistry holds the tools offered to the model, keyed by name.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds tool, replacing any tool of the same name.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	r.tools[tool.Name()] = tool
	r.mu.Unlock()
}

// Unregister removes the named tool, if present.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	r.mu.Unlock()
}

// Get looks a tool up by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute runs the named tool with params. A request the registry cannot
// serve (unknown name, oversized name or input) is returned as an error
// ToolResult with a nil error so the model can read it and carry on. An
// absent input is passed to the tool as {}.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	tool, refusal := r.resolve(name, params)
	if refusal != "" {
		return &ToolResult{Content: refusal, IsError: true}, nil
	}
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	return tool.Execute(ctx, params)
}

func (r *ToolRegistry) resolve(name string, params json.RawMessage) (Tool, string) {
	switch {
	case len(name) > MaxToolNameLength:
		return nil, fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	case len(params) > MaxToolParamsSize:
		return nil, fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)
	}
	tool, ok := r.Get(name)
	if !ok {
		return nil, fmt.Sprintf("%s: %s", ErrToolNotFound, name)
	}
	return tool, ""
}

// AsLLMTools returns the registered tools ordered by name, which keeps the
// tool list sent to the model stable between calls.
func (r *ToolRegistry) AsLLMTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Names returns the registered tool names in order.
func (r *ToolRegistry) Names() []string {
	tools := r.AsLLMTools()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}

func matchesToolPatterns(patterns []string, toolName string) bool {
	name := strings.ToLower(strings.TrimSpace(toolName))
	for _, pattern := range patterns {
		if matchToolPattern(strings.ToLower(strings.TrimSpace(pattern)), name) {
			return true
		}
	}
	return false
}

// matchToolPattern matches an exact name, "*", "mcp:*", or a "prefix.*" /
// "prefix_*" wildcard.
func matchToolPattern(pattern, toolName string) bool {
	switch {
	case pattern == "" || toolName == "":
		return false
	case pattern == "*":
		return true
	case pattern == "mcp:*":
		return strings.HasPrefix(toolName, "mcp:")
	case strings.HasSuffix(pattern, ".*"), strings.HasSuffix(pattern, "_*"):
		return strings.HasPrefix(toolName, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == toolName
}
