// Package llm provides streaming model providers, a registry that resolves
// model ids to providers, and a retry chain with per-provider circuit
// breakers.
package llm

import (
	"context"

	"kory/internal/tools"
)

// Stream event types. One streaming call produces a sequence of deltas and
// terminates with complete or error.
const (
	EventContentDelta  = "content_delta"
	EventThinkingDelta = "thinking_delta"
	EventUsageUpdate   = "usage_update"
	EventToolUseStart  = "tool_use_start"
	EventToolUseDelta  = "tool_use_delta"
	EventToolUseStop   = "tool_use_stop"
	EventComplete      = "complete"
	EventError         = "error"
)

// StreamEvent is the tagged variant flowing between a provider and the
// execution loop.
type StreamEvent struct {
	Type string `json:"type"`

	// content_delta / thinking_delta
	Content string `json:"content,omitempty"`

	// tool_use_start carries ToolCallID and ToolName; tool_use_delta carries
	// an argument fragment in Content keyed by ToolCallID.
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`

	// usage_update
	TokensIn  int `json:"tokensIn,omitempty"`
	TokensOut int `json:"tokensOut,omitempty"`

	// complete
	StopReason string `json:"stopReason,omitempty"`

	// error
	Err error `json:"-"`
}

// Message is one turn of a model conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
}

// ToolCall is a completed tool invocation attached to an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Request describes one streaming model call.
type Request struct {
	Model          string
	System         string
	Messages       []Message
	Tools          []tools.ToolDefinition
	MaxTokens      int
	Temperature    float64
	ReasoningLevel string
}

// Provider opens streaming calls against one backend. The returned channel
// is closed after a terminal complete or error event.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Credentials configures a provider endpoint.
type Credentials struct {
	APIKey    string
	AuthToken string
	BaseURL   string
}

// ModelInfo is one entry of the model catalog.
type ModelInfo struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"`
	ContextWindow int    `json:"contextWindow,omitempty"`
	IsLegacy      bool   `json:"isLegacy,omitempty"`
}
