package agentloop

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/martinemde/autollama/unifiedllm"
)

// FileOp names one of the workspace operations the executor may request.
type FileOp string

const (
	OpCreateFile FileOp = "create_file"
	OpUpdateFile FileOp = "update_file"
	OpDeleteFile FileOp = "delete_file"
)

// ToolCall is a validated workspace operation. Content is only meaningful
// for create_file and update_file.
type ToolCall struct {
	Op      FileOp `json:"op"`
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// ToolParser validates raw model arguments into a ToolCall.
type ToolParser func(arguments json.RawMessage) (ToolCall, error)

// RegisteredTool pairs a tool definition with its argument parser.
type RegisteredTool struct {
	Definition unifiedllm.ToolDefinition
	Parse      ToolParser
}

// ToolCallError reports a model tool invocation that could not be turned
// into a ToolCall.
type ToolCallError struct {
	Tool   string
	Reason string
	Err    error
}

func (e *ToolCallError) Error() string {
	return fmt.Sprintf("%s, %s", e.Tool, e.Reason)
}

func (e *ToolCallError) Unwrap() error { return e.Err }

// ToolRegistry manages tool registration and lookup.
type ToolRegistry struct {
	tools map[string]*RegisteredTool
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*RegisteredTool),
	}
}

// Register adds or replaces a tool in the registry.
func (r *ToolRegistry) Register(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = &tool
}

// Get returns a registered tool by name, or nil if not found.
func (r *ToolRegistry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all tool definitions sorted by name, ready to offer
// to the model.
func (r *ToolRegistry) Definitions() []unifiedllm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]unifiedllm.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Convert looks up the tool the model selected and parses its arguments.
func (r *ToolRegistry) Convert(call unifiedllm.ToolCall) (ToolCall, error) {
	tool := r.Get(call.Name)
	if tool == nil {
		return ToolCall{}, &ToolCallError{Tool: call.Name, Reason: "unknown tool"}
	}
	tc, err := tool.Parse(call.Arguments)
	if err != nil {
		return ToolCall{}, &ToolCallError{Tool: call.Name, Reason: "couldn't parse arguments", Err: err}
	}
	return tc, nil
}

// ParseToolArguments unmarshals tool call arguments into a map for
// validation and access.
func ParseToolArguments(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("invalid tool arguments: empty")
	}
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}

// GetStringArg extracts a string argument from parsed tool arguments.
func GetStringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
