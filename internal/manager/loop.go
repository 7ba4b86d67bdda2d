package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"kory/internal/bus"
	"kory/internal/llm"
	"kory/internal/store"
	"kory/internal/token"
	"kory/internal/tools"
	"kory/internal/trace"
)

// toolResultTokenBudget caps how much of a single tool result re-enters the
// conversation. Shell output and file reads can dwarf the context window.
const toolResultTokenBudget = 4000

type loopParams struct {
	sessionID      string
	agentID        string
	role           string
	provider       string
	model          string
	systemPrompt   string
	reasoningLevel string
	messages       []llm.Message
	toolCtx        *tools.ToolContext
	maxTurns       int
	persist        bool // store assistant text turns (manager role only)
}

// pendingCall accumulates streamed tool-call fragments.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (m *Manager) newToolContext(sessionID, agentID string, sandboxed bool, allowedPaths []string) *tools.ToolContext {
	timeout := time.Duration(m.cfg.Safety.ToolExecutionTimeoutMs) * time.Millisecond
	return &tools.ToolContext{
		SessionID:    sessionID,
		AgentID:      agentID,
		Workdir:      m.workdir,
		Sandboxed:    sandboxed,
		AllowedPaths: allowedPaths,
		Timeout:      timeout,
		EmitFileEdit: func(path, delta string, totalLength int, operation string) {
			m.bus.Publish(bus.TopicFileDelta, sessionID, bus.FileDelta{
				AgentID: agentID, Path: path, Delta: delta,
				TotalLength: totalLength, Operation: operation})
		},
		EmitFileComplete: func(path string, totalLines int, operation string) {
			m.bus.Publish(bus.TopicFileComplete, sessionID, bus.FileComplete{
				AgentID: agentID, Path: path, TotalLines: totalLines, Operation: operation})
		},
		RecordChange: func(change bus.ChangeSummary) {
			m.ledger.Append(sessionID, change)
		},
		AskUser: func(ctx context.Context, question string, options []string, allowOther bool) (string, error) {
			return m.askUser(ctx, sessionID, question, options, allowOther)
		},
	}
}

// runLoop drives the tool-calling conversation until a natural stop, the
// turn limit, cancellation, or an exhausted provider chain.
func (m *Manager) runLoop(ctx context.Context, p loopParams) error {
	start := time.Now()
	messages := p.messages
	maxTokensIn, maxTokensOut := 0, 0
	turns := 0

	defer func() {
		m.trace.Append(trace.Event{Type: trace.EventExecutionLoopComplete,
			SessionID: p.sessionID, AgentID: p.agentID,
			Data: map[string]any{"turns": turns, "durationMs": time.Since(start).Milliseconds()}})
	}()

	for turns = 1; turns <= p.maxTurns; turns++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		turnStart := time.Now()
		events, err := m.llm.ExecuteWithRetry(ctx, llm.Request{
			Model:          p.model,
			System:         p.systemPrompt,
			Messages:       messages,
			Tools:          m.tools.GetToolDefsForRole(p.role),
			MaxTokens:      m.cfg.Safety.MaxTokensPerTurn,
			ReasoningLevel: p.reasoningLevel,
		}, p.provider)
		if err != nil {
			return err
		}

		var content strings.Builder
		pending := make(map[string]*pendingCall)
		var completed []*pendingCall

		for ev := range events {
			switch ev.Type {
			case llm.EventContentDelta:
				content.WriteString(ev.Content)
				m.bus.Publish(bus.TopicStreamDelta, p.sessionID, bus.StreamDelta{
					AgentID: p.agentID, Content: ev.Content, Model: p.model})
			case llm.EventThinkingDelta:
				m.bus.Publish(bus.TopicStreamThinking, p.sessionID, bus.StreamThinking{
					AgentID: p.agentID, Thinking: ev.Content})
			case llm.EventUsageUpdate:
				if ev.TokensIn > maxTokensIn {
					maxTokensIn = ev.TokensIn
				}
				if ev.TokensOut > maxTokensOut {
					maxTokensOut = ev.TokensOut
				}
				m.publishUsage(p, maxTokensIn, maxTokensOut)
			case llm.EventToolUseStart:
				call := &pendingCall{id: ev.ToolCallID, name: ev.ToolName}
				pending[ev.ToolCallID] = call
				m.bus.Publish(bus.TopicToolCall, p.sessionID, bus.ToolCallPayload{
					AgentID:  p.agentID,
					ToolCall: bus.ToolCallInfo{ID: ev.ToolCallID, Name: ev.ToolName}})
			case llm.EventToolUseDelta:
				if call, ok := pending[ev.ToolCallID]; ok {
					call.args.WriteString(ev.Content)
				}
			case llm.EventToolUseStop:
				if call, ok := pending[ev.ToolCallID]; ok {
					completed = append(completed, call)
					delete(pending, ev.ToolCallID)
				}
			case llm.EventError:
				return ev.Err
			}
		}

		assistant := llm.Message{Role: "assistant", Content: content.String()}
		for _, call := range completed {
			assistant.ToolCalls = append(assistant.ToolCalls, llm.ToolCall{
				ID: call.id, Name: call.name, Arguments: call.args.String()})
		}
		messages = append(messages, assistant)

		if p.persist && assistant.Content != "" {
			stored := &store.Message{
				SessionID: p.sessionID,
				Role:      store.RoleAssistant,
				Content:   assistant.Content,
				Model:     p.model,
				Provider:  p.provider,
			}
			for _, call := range assistant.ToolCalls {
				stored.ToolCalls = append(stored.ToolCalls, store.ToolCall{
					ID: call.ID, Name: call.Name, Arguments: call.Arguments})
			}
			if err := m.store.AddMessage(ctx, stored); err != nil {
				m.logger.Warn("persist assistant message: %v", err)
			}
		}
		_ = m.store.AddUsage(ctx, p.sessionID, int64(maxTokensIn), int64(maxTokensOut), 0)

		m.trace.Append(trace.Event{Type: trace.EventLLMTurn,
			SessionID: p.sessionID, AgentID: p.agentID,
			Data: map[string]any{"model": p.model, "toolCalls": len(completed),
				"durationMs": time.Since(turnStart).Milliseconds()}})

		if len(completed) == 0 {
			return nil
		}

		for _, call := range completed {
			result := m.executeToolCall(ctx, p, call)
			m.bus.Publish(bus.TopicToolResult, p.sessionID, bus.ToolResultPayload{
				AgentID: p.agentID,
				ToolResult: bus.ToolResultInfo{
					CallID:     call.id,
					Name:       call.name,
					Output:     toolResultText(result),
					IsError:    result.IsError(),
					DurationMs: result.DurationMs,
				}})
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    token.Truncate(toolResultText(result), toolResultTokenBudget),
				ToolCallID: call.id,
			})
		}
	}
	return nil
}

func (m *Manager) publishUsage(p loopParams, tokensIn, tokensOut int) {
	window, known := llm.ContextWindowFor(p.model)
	usage := bus.Usage{
		AgentID:      p.agentID,
		Model:        p.model,
		Provider:     p.provider,
		TokensIn:     tokensIn,
		TokensOut:    tokensOut,
		TokensUsed:   tokensIn + tokensOut,
		UsageKnown:   true,
		ContextKnown: known,
	}
	if known {
		usage.ContextWindow = window
	}
	m.bus.Publish(bus.TopicUsage, p.sessionID, usage)
}

// executeToolCall parses the streamed argument buffer and dispatches to the
// registry. Failures come back as error results, never as loop errors.
func (m *Manager) executeToolCall(ctx context.Context, p loopParams, call *pendingCall) *tools.ToolResult {
	start := time.Now()
	args, err := parseToolArguments(call.args.String())
	if err != nil {
		return &tools.ToolResult{
			CallID:     call.id,
			Error:      fmt.Errorf("invalid tool arguments: %w", err),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	if call.name == "shell" {
		if result := m.confirmDestructiveShell(ctx, p, call, args); result != nil {
			return result
		}
	}

	toolCtx := tools.WithToolContext(ctx, p.toolCtx)
	result := m.tools.Execute(toolCtx, p.role, tools.ToolCall{
		ID: call.id, Name: call.name, Arguments: args})

	m.trace.Append(trace.Event{Type: trace.EventToolExecution,
		SessionID: p.sessionID, AgentID: p.agentID,
		Data: map[string]any{"tool": call.name, "isError": result.IsError(),
			"durationMs": result.DurationMs}})
	return result
}

// parseToolArguments decodes a streamed argument buffer, repairing truncated
// or sloppy JSON before giving up.
func parseToolArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("unparseable arguments: %s", truncateForError(raw))
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("unparseable arguments: %s", truncateForError(raw))
	}
	return args, nil
}

func truncateForError(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}

// Commands that pass the deny-list but still warrant a confirmation before
// running.
var destructiveShellPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bgit\s+push\s+.*--force\b`),
	regexp.MustCompile(`\bgit\s+reset\s+--hard\b`),
	regexp.MustCompile(`\brm\s+-[rf]{2}\s+\S`),
}

// confirmDestructiveShell gates dangerous-but-allowed commands behind an
// ask_user round-trip unless yolo mode is on. Returns a non-nil result when
// the call must not proceed.
func (m *Manager) confirmDestructiveShell(ctx context.Context, p loopParams, call *pendingCall, args map[string]any) *tools.ToolResult {
	command, _ := args["command"].(string)
	if command == "" || !isDestructiveShell(command) || m.YoloMode() {
		return nil
	}

	answer, err := m.askUser(ctx, p.sessionID,
		fmt.Sprintf("Run this potentially destructive command?\n\n  %s", command),
		[]string{"run", "cancel"}, false)
	if err != nil || strings.EqualFold(answer, "cancel") {
		return &tools.ToolResult{
			CallID: call.id,
			Error:  fmt.Errorf("command declined by user: %s", command),
		}
	}
	return nil
}

func isDestructiveShell(command string) bool {
	for _, re := range destructiveShellPatterns {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

func toolResultText(result *tools.ToolResult) string {
	if result.IsError() {
		return "Error: " + result.Error.Error()
	}
	return result.Content
}
