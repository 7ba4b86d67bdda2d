package store

import "time"

// Workflow states a session moves through while the orchestrator works.
const (
	StateIdle        = "idle"
	StateAnalyzing   = "analyzing"
	StatePlanning    = "planning"
	StateExecuting   = "executing"
	StateWaitingUser = "waiting_user"
	StateError       = "error"
)

// Task statuses. Transitions only move forward: pending -> active ->
// done | failed | interrupted.
const (
	TaskPending     = "pending"
	TaskActive      = "active"
	TaskDone        = "done"
	TaskFailed      = "failed"
	TaskInterrupted = "interrupted"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// Session is one conversation with the orchestrator.
type Session struct {
	ID            string    `db:"id" json:"id"`
	Title         string    `db:"title" json:"title"`
	ParentID      string    `db:"parent_id" json:"parentId,omitempty"`
	MessageCount  int       `db:"message_count" json:"messageCount"`
	TokensIn      int64     `db:"tokens_in" json:"tokensIn"`
	TokensOut     int64     `db:"tokens_out" json:"tokensOut"`
	TotalCost     float64   `db:"total_cost" json:"totalCost"`
	WorkflowState string    `db:"workflow_state" json:"workflowState"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// ToolCall is a completed tool invocation recorded on an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry in a session's append-only transcript.
type Message struct {
	ID         string     `db:"id" json:"id"`
	SessionID  string     `db:"session_id" json:"sessionId"`
	Role       string     `db:"role" json:"role"`
	Content    string     `db:"content" json:"content"`
	Model      string     `db:"model" json:"model,omitempty"`
	Provider   string     `db:"provider" json:"provider,omitempty"`
	ToolCallID string     `db:"tool_call_id" json:"toolCallId,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

// Task is one unit of delegated work, one-to-one with a spawned worker.
type Task struct {
	ID          string    `db:"id" json:"id"`
	SessionID   string    `db:"session_id" json:"sessionId"`
	Description string    `db:"description" json:"description"`
	Domain      string    `db:"domain" json:"domain"`
	Model       string    `db:"model" json:"model"`
	Status      string    `db:"status" json:"status"`
	Plan        string    `db:"plan" json:"plan,omitempty"`
	Result      string    `db:"result" json:"result,omitempty"`
	Error       string    `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// SessionPatch is a partial session update; nil fields are left unchanged.
type SessionPatch struct {
	Title         *string
	WorkflowState *string
}

// TaskPatch is a partial task update; nil fields are left unchanged.
type TaskPatch struct {
	Status *string
	Plan   *string
	Result *string
	Error  *string
	Model  *string
}
