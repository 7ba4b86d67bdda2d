package manager

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kory/internal/bus"
	"kory/internal/config"
	"kory/internal/ledger"
	"kory/internal/llm"
	"kory/internal/snapshot"
	"kory/internal/store"
	"kory/internal/tools"
	"kory/internal/tools/builtin"
	"kory/internal/trace"
	"kory/internal/vcs"
)

// scriptedProvider replays canned responses in call order and records every
// request it saw.
type scriptedProvider struct {
	mu        sync.Mutex
	name      string
	responses [][]llm.StreamEvent
	requests  []llm.Request
}

func (s *scriptedProvider) Name() string { return s.name }

func (s *scriptedProvider) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var events []llm.StreamEvent
	if len(s.responses) > 0 {
		events = s.responses[0]
		s.responses = s.responses[1:]
	} else {
		events = textResponse("done")
	}
	s.mu.Unlock()

	out := make(chan llm.StreamEvent, len(events))
	for _, ev := range events {
		out <- ev
	}
	close(out)
	return out, nil
}

func (s *scriptedProvider) recorded() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

func textResponse(content string) []llm.StreamEvent {
	return []llm.StreamEvent{
		{Type: llm.EventContentDelta, Content: content},
		{Type: llm.EventUsageUpdate, TokensIn: 50, TokensOut: 10},
		{Type: llm.EventComplete, StopReason: "end_turn"},
	}
}

func toolUseResponse(id, name, args string) []llm.StreamEvent {
	return []llm.StreamEvent{
		{Type: llm.EventToolUseStart, ToolCallID: id, ToolName: name},
		{Type: llm.EventToolUseDelta, ToolCallID: id, Content: args},
		{Type: llm.EventToolUseStop, ToolCallID: id},
		{Type: llm.EventUsageUpdate, TokensIn: 100, TokensOut: 30},
		{Type: llm.EventComplete, StopReason: "tool_use"},
	}
}

type testEnv struct {
	manager  *Manager
	store    *store.Store
	bus      *bus.Bus
	sub      *bus.Subscription
	provider *scriptedProvider
	workdir  string
}

func newTestEnv(t *testing.T, responses [][]llm.StreamEvent, mutate func(*config.Config)) *testEnv {
	t.Helper()
	workdir := t.TempDir()

	cfg := config.Default()
	cfg.DataDirectory = t.TempDir()
	cfg.Interaction.ClarifyFirstEnabled = false
	if mutate != nil {
		mutate(cfg)
	}

	st, err := store.Open(filepath.Join(cfg.DataDirectory, "kory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	registry := llm.NewRegistry(cfg)
	provider := &scriptedProvider{name: "anthropic", responses: responses}
	registry.RegisterProvider(provider)

	toolReg := tools.NewRegistry()
	require.NoError(t, builtin.RegisterAll(toolReg, builtin.Config{}))

	b := bus.New()
	t.Cleanup(b.Close)
	sub := b.Subscribe(0)

	m := New(Options{
		Config:    cfg,
		Store:     st,
		Bus:       b,
		Ledger:    ledger.New(),
		Snapshots: snapshot.New(filepath.Join(cfg.DataDirectory, "snapshots")),
		Git:       vcs.New(workdir),
		Tools:     toolReg,
		LLM:       registry,
		Trace:     trace.NewSink(cfg.DataDirectory),
		Workdir:   workdir,
	})
	return &testEnv{manager: m, store: st, bus: b, sub: sub, provider: provider, workdir: workdir}
}

func (e *testEnv) newSession(t *testing.T) string {
	t.Helper()
	session, err := e.store.CreateSession(context.Background(), "", "")
	require.NoError(t, err)
	return session.ID
}

func (e *testEnv) waitDone(t *testing.T, sessionID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !e.manager.IsSessionRunning(sessionID)
	}, 10*time.Second, 10*time.Millisecond)
}

func (e *testEnv) drainEvents() []bus.Event {
	var events []bus.Event
	for {
		select {
		case ev := <-e.sub.C:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func topics(events []bus.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Topic)
	}
	return out
}

func TestTypoFixFastPath(t *testing.T) {
	env := newTestEnv(t, [][]llm.StreamEvent{
		toolUseResponse("t1", "edit_file",
			`{"path":"README.md","old_string":"Helo","new_string":"Hello"}`),
		textResponse("Fixed the typo."),
	}, nil)
	require.NoError(t, os.WriteFile(filepath.Join(env.workdir, "README.md"), []byte("Helo world\n"), 0o644))

	sessionID := env.newSession(t)
	require.NoError(t, env.manager.Process(sessionID, "fix typo in README.md", "", ""))
	env.waitDone(t, sessionID)

	data, err := os.ReadFile(filepath.Join(env.workdir, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "Hello world\n", string(data))

	changes := env.manager.GetSessionChanges(sessionID)
	require.Len(t, changes, 1)
	assert.Equal(t, "README.md", changes[0].Path)
	assert.Equal(t, "edit", changes[0].Operation)
	assert.Equal(t, 1, changes[0].LinesAdded)
	assert.Equal(t, 1, changes[0].LinesDeleted)

	seen := topics(env.drainEvents())
	assert.Contains(t, seen, bus.TopicAgentSpawned)
	assert.Contains(t, seen, bus.TopicToolCall)
	assert.Contains(t, seen, bus.TopicFileDelta)
	assert.Contains(t, seen, bus.TopicFileComplete)
	assert.Contains(t, seen, bus.TopicToolResult)
	assert.Contains(t, seen, bus.TopicChanges)

	session, err := env.store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, store.StateIdle, session.WorkflowState)
	assert.Equal(t, "fix typo in README.md", session.Title)

	// No classification call happened: the fix/typo shortcut fired, so the
	// first recorded request is already the fast-path turn.
	reqs := env.provider.recorded()
	require.NotEmpty(t, reqs)
	assert.Equal(t, managerSystemPrompt, reqs[0].System)
}

func TestFastPathSeedsHistory(t *testing.T) {
	env := newTestEnv(t, [][]llm.StreamEvent{
		textResponse("answered"),
	}, nil)
	sessionID := env.newSession(t)

	require.NoError(t, env.store.AddMessage(context.Background(), &store.Message{
		SessionID: sessionID, Role: store.RoleUser, Content: "earlier question"}))
	require.NoError(t, env.store.AddMessage(context.Background(), &store.Message{
		SessionID: sessionID, Role: store.RoleAssistant, Content: "earlier answer"}))

	require.NoError(t, env.manager.Process(sessionID, "fix the typo now", "", ""))
	env.waitDone(t, sessionID)

	reqs := env.provider.recorded()
	require.Len(t, reqs, 1)
	msgs := reqs[0].Messages
	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Equal(t, "earlier question", msgs[0].Content)
	assert.Equal(t, "earlier answer", msgs[1].Content)
	assert.Equal(t, "fix the typo now", msgs[len(msgs)-1].Content)
}

func TestUsageEventsAreMonotonic(t *testing.T) {
	env := newTestEnv(t, [][]llm.StreamEvent{
		{
			{Type: llm.EventUsageUpdate, TokensIn: 100, TokensOut: 5},
			{Type: llm.EventContentDelta, Content: "hi"},
			{Type: llm.EventUsageUpdate, TokensIn: 80, TokensOut: 20},
			{Type: llm.EventComplete, StopReason: "end_turn"},
		},
	}, nil)
	sessionID := env.newSession(t)
	require.NoError(t, env.manager.Process(sessionID, "fix typo", "", ""))
	env.waitDone(t, sessionID)

	var usages []bus.Usage
	for _, ev := range env.drainEvents() {
		if ev.Topic == bus.TopicUsage {
			usages = append(usages, ev.Payload.(bus.Usage))
		}
	}
	require.Len(t, usages, 2)
	assert.GreaterOrEqual(t, usages[1].TokensIn, usages[0].TokensIn)
	assert.GreaterOrEqual(t, usages[1].TokensOut, usages[0].TokensOut)
	assert.Equal(t, 100, usages[1].TokensIn)
	assert.Equal(t, 20, usages[1].TokensOut)
	assert.True(t, usages[0].UsageKnown)
	assert.True(t, usages[0].ContextKnown)
	assert.Equal(t, 200000, usages[0].ContextWindow)
}

func TestInvalidToolArgumentsBecomeErrorResult(t *testing.T) {
	env := newTestEnv(t, [][]llm.StreamEvent{
		toolUseResponse("t1", "edit_file", `{"path": [broken`),
		textResponse("giving up"),
	}, nil)
	sessionID := env.newSession(t)
	require.NoError(t, env.manager.Process(sessionID, "fix typo please", "", ""))
	env.waitDone(t, sessionID)

	var results []bus.ToolResultPayload
	for _, ev := range env.drainEvents() {
		if ev.Topic == bus.TopicToolResult {
			results = append(results, ev.Payload.(bus.ToolResultPayload))
		}
	}
	require.Len(t, results, 1)
	// jsonrepair can rescue some of these; either way the loop kept going
	// and the pipeline finished idle.
	session, err := env.store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, store.StateIdle, session.WorkflowState)
}

func TestChainExhaustionPublishesSystemError(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.manager.llm.RemoveApiKey("anthropic")

	sessionID := env.newSession(t)
	require.NoError(t, env.manager.Process(sessionID, "fix typo", "", ""))
	env.waitDone(t, sessionID)

	seen := topics(env.drainEvents())
	assert.Contains(t, seen, bus.TopicSystemError)

	session, err := env.store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, store.StateError, session.WorkflowState)
}

func TestProcessRejectsConcurrentRuns(t *testing.T) {
	env := newTestEnv(t, [][]llm.StreamEvent{
		textResponse("first"),
	}, nil)
	sessionID := env.newSession(t)

	require.NoError(t, env.manager.Process(sessionID, "fix typo", "", ""))
	// The second call races the first pipeline; either it is rejected or the
	// first one already finished.
	err := env.manager.Process(sessionID, "fix typo again", "", "")
	if err != nil {
		assert.Contains(t, err.Error(), "already running")
	}
	env.waitDone(t, sessionID)
}

func TestProcessValidatesInput(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	assert.Error(t, env.manager.Process("", "hello", "", ""))
	assert.Error(t, env.manager.Process("s1", "   ", "", ""))
}

func TestClarificationFlow(t *testing.T) {
	env := newTestEnv(t, [][]llm.StreamEvent{
		textResponse(`{"action":"clarify","questions":["What should improve, performance or readability?"],"reason":"vague"}`),
		textResponse("SIMPLE"),
		textResponse("ok, improved"),
	}, func(cfg *config.Config) {
		cfg.Interaction.ClarifyFirstEnabled = true
	})
	sessionID := env.newSession(t)
	require.NoError(t, env.manager.Process(sessionID, "make it better", "", ""))

	// Answer the ask_user prompt when it shows up.
	var request bus.AskUser
	require.Eventually(t, func() bool {
		for _, ev := range env.drainEvents() {
			if ev.Topic == bus.TopicAskUser {
				request = ev.Payload.(bus.AskUser)
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	require.NotEmpty(t, request.RequestID)
	require.True(t, env.manager.HandleUserInput(sessionID, "", "performance", request.RequestID))

	env.waitDone(t, sessionID)

	reqs := env.provider.recorded()
	require.Len(t, reqs, 3)
	final := reqs[2].Messages[len(reqs[2].Messages)-1].Content
	assert.Contains(t, final, "Clarifications:")
	assert.Contains(t, final, "performance")
}

func TestYoloModeSkipsDestructiveConfirmation(t *testing.T) {
	env := newTestEnv(t, [][]llm.StreamEvent{
		toolUseResponse("t1", "shell", `{"command":"git reset --hard"}`),
		textResponse("reset done"),
	}, nil)
	env.manager.SetYoloMode(true)

	sessionID := env.newSession(t)
	require.NoError(t, env.manager.Process(sessionID, "fix typo via reset", "", ""))
	env.waitDone(t, sessionID)

	// No ask_user round-trip happened.
	for _, ev := range env.drainEvents() {
		assert.NotEqual(t, bus.TopicAskUser, ev.Topic)
	}
}

func TestDestructiveShellDetection(t *testing.T) {
	assert.True(t, isDestructiveShell("git push origin main --force"))
	assert.True(t, isDestructiveShell("git reset --hard HEAD~1"))
	assert.True(t, isDestructiveShell("rm -rf ./build"))
	assert.False(t, isDestructiveShell("git push origin main"))
	assert.False(t, isDestructiveShell("ls -la"))
	assert.False(t, isDestructiveShell("rm file.txt"))
}

func TestCancelSessionWorkersInterrupts(t *testing.T) {
	env := newTestEnv(t, [][]llm.StreamEvent{
		toolUseResponse("t1", "shell", `{"command":"sleep 30"}`),
	}, nil)
	sessionID := env.newSession(t)
	require.NoError(t, env.manager.Process(sessionID, "fix typo slowly", "", ""))

	require.Eventually(t, func() bool {
		return env.manager.IsSessionRunning(sessionID)
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	env.manager.CancelSessionWorkers(sessionID)
	env.waitDone(t, sessionID)

	session, err := env.store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, store.StateIdle, session.WorkflowState)
}
