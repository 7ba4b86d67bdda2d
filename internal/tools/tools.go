// Package tools defines the tool abstraction the orchestrator exposes to
// models: named executors with JSON-schema inputs, per-role visibility and a
// sandboxed per-invocation context.
package tools

import "context"

// Agent roles a tool can be visible to.
const (
	RoleManager = "manager"
	RoleWorker  = "worker"
)

// Executor executes a single tool call.
type Executor interface {
	// Execute runs the tool with given arguments.
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)

	// Definition returns the tool's schema for the model.
	Definition() ToolDefinition

	// Metadata returns tool metadata.
	Metadata() ToolMetadata
}

// ToolCall represents a request to execute a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the execution result. Error is set for tool-level failures;
// those are fed back to the model, never raised.
type ToolResult struct {
	CallID     string         `json:"callId"`
	Content    string         `json:"content"`
	Error      error          `json:"-"`
	DurationMs int64          `json:"durationMs"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// IsError reports whether the tool failed.
func (r *ToolResult) IsError() bool {
	return r != nil && r.Error != nil
}

// ToolDefinition describes a tool for the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

// ToolMetadata contains tool information. Roles controls which agent roles
// may see and call the tool.
type ToolMetadata struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags,omitempty"`
	Dangerous bool     `json:"dangerous"`
	Roles     []string `json:"roles"`
}

// AllowsRole reports whether role may use the tool.
func (m ToolMetadata) AllowsRole(role string) bool {
	for _, r := range m.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ParameterSchema defines tool parameters (JSON Schema format).
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property defines a single parameter.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Enum        []any  `json:"enum,omitempty"`
}

// StringArg extracts a required string argument.
func StringArg(call ToolCall, key string) (string, bool) {
	value, ok := call.Arguments[key].(string)
	return value, ok
}

// BoolArg extracts an optional bool argument with a default.
func BoolArg(call ToolCall, key string, fallback bool) bool {
	if value, ok := call.Arguments[key].(bool); ok {
		return value
	}
	return fallback
}

// IntArg extracts an optional integer argument with a default. JSON numbers
// decode as float64.
func IntArg(call ToolCall, key string, fallback int) int {
	switch v := call.Arguments[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
