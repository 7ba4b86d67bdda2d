package bus

// Topic names published by the orchestration core.
const (
	TopicAgentSpawned   = "agent.spawned"
	TopicAgentStatus    = "agent.status"
	TopicStreamDelta    = "stream.delta"
	TopicStreamThinking = "stream.thinking"
	TopicToolCall       = "stream.tool_call"
	TopicToolResult     = "stream.tool_result"
	TopicFileDelta      = "stream.file_delta"
	TopicFileComplete   = "stream.file_complete"
	TopicUsage          = "stream.usage"
	TopicThought        = "kory.thought"
	TopicAskUser        = "kory.ask_user"
	TopicChanges        = "session.changes"
	TopicAcceptChanges  = "session.accept_changes"
	TopicGitCommit      = "session.git_commit"
	TopicSystemError    = "system.error"
)

// AgentIdentity describes an agent for UI rendering. Workers live only for
// the duration of their task.
type AgentIdentity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Domain   string `json:"domain,omitempty"`
	Color    string `json:"color,omitempty"`
}

// AgentSpawned announces a new agent working on a task.
type AgentSpawned struct {
	Agent AgentIdentity `json:"agent"`
	Task  string        `json:"task"`
}

// AgentStatus reports a coarse agent state change.
type AgentStatus struct {
	AgentID string `json:"agentId"`
	Status  string `json:"status"`
	Detail  string `json:"detail,omitempty"`
}

// StreamDelta carries one assistant content fragment.
type StreamDelta struct {
	AgentID string `json:"agentId"`
	Content string `json:"content"`
	Model   string `json:"model"`
}

// StreamThinking carries one reasoning fragment.
type StreamThinking struct {
	AgentID  string `json:"agentId"`
	Thinking string `json:"thinking"`
}

// ToolCallPayload announces a tool invocation.
type ToolCallPayload struct {
	AgentID  string       `json:"agentId"`
	ToolCall ToolCallInfo `json:"toolCall"`
}

// ToolCallInfo is the wire form of a tool call.
type ToolCallInfo struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

// ToolResultPayload reports a finished tool invocation.
type ToolResultPayload struct {
	AgentID    string         `json:"agentId"`
	ToolResult ToolResultInfo `json:"toolResult"`
}

// ToolResultInfo is the wire form of a tool result.
type ToolResultInfo struct {
	CallID     string `json:"callId"`
	Name       string `json:"name"`
	Output     string `json:"output"`
	IsError    bool   `json:"isError"`
	DurationMs int64  `json:"durationMs"`
}

// FileDelta streams a live preview fragment for a file under edit.
type FileDelta struct {
	AgentID     string `json:"agentId"`
	Path        string `json:"path"`
	Delta       string `json:"delta"`
	TotalLength int    `json:"totalLength"`
	Operation   string `json:"operation"`
}

// FileComplete marks the end of a streamed file edit.
type FileComplete struct {
	AgentID    string `json:"agentId"`
	Path       string `json:"path"`
	TotalLines int    `json:"totalLines"`
	Operation  string `json:"operation"`
}

// Usage reports token consumption for one agent turn. Context fields are set
// only for whitelisted provider/model pairs.
type Usage struct {
	AgentID       string `json:"agentId"`
	Model         string `json:"model"`
	Provider      string `json:"provider"`
	TokensIn      int    `json:"tokensIn"`
	TokensOut     int    `json:"tokensOut"`
	TokensUsed    int    `json:"tokensUsed"`
	UsageKnown    bool   `json:"usageKnown"`
	ContextKnown  bool   `json:"contextKnown"`
	ContextWindow int    `json:"contextWindow,omitempty"`
}

// Thought is a manager-phase narration event.
type Thought struct {
	Thought string `json:"thought"`
	Phase   string `json:"phase"`
}

// Thought phases.
const (
	PhaseAnalyzing    = "analyzing"
	PhasePlanning     = "planning"
	PhaseDelegating   = "delegating"
	PhaseExecuting    = "executing"
	PhaseFinalizing   = "finalizing"
	PhaseSynthesizing = "synthesizing"
)

// AskUser requests an out-of-band answer from the user.
type AskUser struct {
	Question   string   `json:"question"`
	Options    []string `json:"options,omitempty"`
	AllowOther bool     `json:"allowOther"`
	RequestID  string   `json:"requestId"`
}

// ChangeSummary describes one pending file change awaiting accept/reject.
type ChangeSummary struct {
	Path         string `json:"path"`
	LinesAdded   int    `json:"linesAdded"`
	LinesDeleted int    `json:"linesDeleted"`
	Operation    string `json:"operation"` // create | edit | delete
}

// Changes broadcasts the pending change set for a session.
type Changes struct {
	Changes []ChangeSummary `json:"changes"`
}

// GitCommit announces a commit made on the session's behalf.
type GitCommit struct {
	Message string `json:"message"`
}

// SystemError reports a pipeline failure.
type SystemError struct {
	Error string `json:"error"`
}
