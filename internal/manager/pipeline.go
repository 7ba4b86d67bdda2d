package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kory/internal/bus"
	"kory/internal/llm"
	"kory/internal/store"
	"kory/internal/tools"
	"kory/internal/trace"
)

const (
	complexitySimple  = "SIMPLE"
	complexityComplex = "COMPLEX"
)

func (m *Manager) runPipeline(ctx context.Context, sessionID, userMessage, preferredModel, reasoningLevel string) {
	start := time.Now()
	m.setState(ctx, sessionID, store.StateAnalyzing)
	m.ledger.Clear(sessionID)
	m.publishThought(sessionID, "Analyzing the request", bus.PhaseAnalyzing)

	managerRouting, err := m.resolveManagerRouting(preferredModel)
	if err != nil {
		m.failPipeline(ctx, sessionID, err)
		return
	}

	m.persistUserMessage(ctx, sessionID, userMessage)

	enriched := userMessage
	if m.cfg.Interaction.ClarifyFirstEnabled {
		enriched = m.clarifyStep(ctx, sessionID, userMessage, managerRouting)
	}

	complexity := m.classifyComplexity(ctx, sessionID, enriched, managerRouting)

	var runErr error
	if complexity == complexityComplex {
		runErr = m.complexPath(ctx, sessionID, enriched, preferredModel, managerRouting, reasoningLevel)
	} else {
		runErr = m.fastPath(ctx, sessionID, enriched, managerRouting, reasoningLevel)
	}

	// The pipeline context may already be cancelled; final bookkeeping still
	// has to land.
	exitCtx := context.Background()
	if runErr != nil && ctx.Err() == nil {
		m.failPipeline(exitCtx, sessionID, runErr)
		return
	}

	if changes := m.ledger.Get(sessionID); len(changes) > 0 {
		m.bus.Publish(bus.TopicChanges, sessionID, bus.Changes{Changes: changes})
	}
	m.setState(exitCtx, sessionID, store.StateIdle)
	m.logger.Info("pipeline for session %s finished in %s", sessionID, time.Since(start).Round(time.Millisecond))
}

func (m *Manager) failPipeline(ctx context.Context, sessionID string, err error) {
	m.logger.Error("pipeline for session %s failed: %v", sessionID, err)
	m.publishError(sessionID, err)
	m.setState(ctx, sessionID, store.StateError)
}

func (m *Manager) resolveManagerRouting(preferredModel string) (routing, error) {
	if r, ok := splitProviderModel(preferredModel); ok {
		return r, nil
	}
	if r, ok := splitProviderModel(m.cfg.AgentModel("manager")); ok {
		return r, nil
	}
	return routing{}, fmt.Errorf("no provider available for manager")
}

// persistUserMessage stores the turn and derives the session title from the
// first message.
func (m *Manager) persistUserMessage(ctx context.Context, sessionID, userMessage string) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		m.logger.Warn("load session %s: %v", sessionID, err)
		return
	}
	if session.MessageCount == 0 && session.Title == "" {
		title := deriveTitle(userMessage)
		if _, err := m.store.UpdateSession(ctx, sessionID, store.SessionPatch{Title: &title}); err != nil {
			m.logger.Warn("set session title: %v", err)
		}
	}
	msg := &store.Message{SessionID: sessionID, Role: store.RoleUser, Content: userMessage}
	if err := m.store.AddMessage(ctx, msg); err != nil {
		m.logger.Warn("persist user message: %v", err)
	}
}

func deriveTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	runes := []rune(title)
	if len(runes) > 64 {
		title = string(runes[:64])
	}
	return title
}

// clarifyStep decides whether to interrogate the user before working and
// returns the (possibly enriched) message.
func (m *Manager) clarifyStep(ctx context.Context, sessionID, userMessage string, r routing) string {
	if !needsClarification(userMessage) {
		m.trace.Append(trace.Event{Type: trace.EventClarificationSkipped, SessionID: sessionID,
			Data: map[string]any{"reason": "message specific enough"}})
		return userMessage
	}

	maxQuestions := m.cfg.Interaction.MaxClarifyQuestions
	callCtx, cancel := context.WithTimeout(ctx, clarifyTimeout)
	raw, err := m.completeText(callCtx, llm.Request{
		Model:     r.Model,
		System:    fmt.Sprintf(clarifySystemPrompt, maxQuestions),
		Messages:  []llm.Message{{Role: "user", Content: userMessage}},
		MaxTokens: 512,
	}, r.Provider)
	cancel()
	if err != nil {
		m.trace.Append(trace.Event{Type: trace.EventClarificationSkipped, SessionID: sessionID,
			Data: map[string]any{"reason": "clarification call failed", "error": err.Error()}})
		return userMessage
	}

	decision := parseClarifyResponse(raw, maxQuestions)
	if decision.Action != "clarify" {
		return userMessage
	}

	m.trace.Append(trace.Event{Type: trace.EventClarificationAsked, SessionID: sessionID,
		Data: map[string]any{"questions": decision.Questions, "reason": decision.Reason}})

	var pairs [][2]string
	for _, question := range decision.Questions {
		answer, askErr := m.askUser(ctx, sessionID, question, nil, true)
		if askErr != nil {
			// No answer in time: proceed with what we have.
			m.trace.Append(trace.Event{Type: trace.EventClarificationSkipped, SessionID: sessionID,
				Data: map[string]any{"reason": "no user answer", "error": askErr.Error()}})
			if len(pairs) == 0 {
				return userMessage
			}
			break
		}
		pairs = append(pairs, [2]string{question, answer})
	}

	m.trace.Append(trace.Event{Type: trace.EventClarificationAnswered, SessionID: sessionID,
		Data: map[string]any{"answered": len(pairs)}})
	return enrichWithClarifications(userMessage, pairs, decision.Assumptions)
}

// classifyComplexity routes trivially simple messages directly and otherwise
// asks the manager model. Failures default to SIMPLE.
func (m *Manager) classifyComplexity(ctx context.Context, sessionID, message string, r routing) string {
	lower := strings.ToLower(message)
	if len(strings.TrimSpace(message)) < 40 &&
		(strings.Contains(lower, "fix") || strings.Contains(lower, "typo")) {
		m.trace.Append(trace.Event{Type: trace.EventComplexityClassification, SessionID: sessionID,
			Data: map[string]any{"complexity": complexitySimple, "shortcut": true}})
		return complexitySimple
	}

	raw, err := m.completeText(ctx, llm.Request{
		Model:     r.Model,
		System:    classifierSystemPrompt,
		Messages:  []llm.Message{{Role: "user", Content: message}},
		MaxTokens: 8,
	}, r.Provider)
	if err != nil {
		m.trace.Append(trace.Event{Type: trace.EventComplexityClassification, SessionID: sessionID,
			Data: map[string]any{"complexity": complexitySimple, "degraded": true, "error": err.Error()}})
		return complexitySimple
	}

	complexity := complexitySimple
	if strings.Contains(strings.ToUpper(raw), complexityComplex) {
		complexity = complexityComplex
	}
	m.trace.Append(trace.Event{Type: trace.EventComplexityClassification, SessionID: sessionID,
		Data: map[string]any{"complexity": complexity}})
	return complexity
}

// fastPath runs the manager itself against the full filesystem.
func (m *Manager) fastPath(ctx context.Context, sessionID, message string, r routing, reasoningLevel string) error {
	m.setState(ctx, sessionID, store.StateExecuting)
	m.trace.Append(trace.Event{Type: trace.EventDirectExecution, SessionID: sessionID,
		Data: map[string]any{"model": r.Model}})

	identity := bus.AgentIdentity{
		ID:       managerAgentID,
		Name:     "Kory",
		Role:     "manager",
		Model:    r.Model,
		Provider: r.Provider,
		Domain:   DomainGeneral,
		Color:    colorForDomain(DomainGeneral),
	}
	m.bus.Publish(bus.TopicAgentSpawned, sessionID, bus.AgentSpawned{Agent: identity, Task: message})

	messages := m.seedFromHistory(ctx, sessionID, message)
	toolCtx := m.newToolContext(sessionID, managerAgentID, false, []string{"/"})

	return m.runLoop(ctx, loopParams{
		sessionID:      sessionID,
		agentID:        managerAgentID,
		role:           tools.RoleManager,
		provider:       r.Provider,
		model:          r.Model,
		systemPrompt:   managerSystemPrompt,
		reasoningLevel: reasoningLevel,
		messages:       messages,
		toolCtx:        toolCtx,
		maxTurns:       fastPathTurns,
		persist:        true,
	})
}

// complexPath plans, snapshots, spawns a sandboxed worker, and commits.
func (m *Manager) complexPath(ctx context.Context, sessionID, message, preferredModel string, managerRouting routing, reasoningLevel string) error {
	m.setState(ctx, sessionID, store.StatePlanning)
	m.publishThought(sessionID, "Planning the approach", bus.PhasePlanning)

	plan, err := m.streamPlan(ctx, sessionID, message, managerRouting)
	if err != nil {
		return err
	}

	m.captureBaseline(ctx, sessionID)

	domain := classifyDomain(message)
	workerRouting, err := resolveActiveRouting(m.cfg, preferredModel, domain)
	if err != nil {
		return fmt.Errorf("no provider available for worker: %w", err)
	}

	task := &store.Task{
		SessionID:   sessionID,
		Description: message,
		Domain:      domain,
		Model:       workerRouting.Model,
	}
	if err := m.store.CreateTask(ctx, task); err != nil {
		m.logger.Warn("create task: %v", err)
	}

	m.setState(ctx, sessionID, store.StateExecuting)
	m.publishThought(sessionID, "Delegating to a worker", bus.PhaseDelegating)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	w := m.registerWorker(sessionID, task.ID, cancelWorker)
	defer m.unregisterWorker(w.id)

	identity := bus.AgentIdentity{
		ID:       w.id,
		Name:     "Worker " + strings.TrimPrefix(w.id, "worker-"),
		Role:     "coder",
		Model:    workerRouting.Model,
		Provider: workerRouting.Provider,
		Domain:   domain,
		Color:    colorForDomain(domain),
	}
	m.bus.Publish(bus.TopicAgentSpawned, sessionID, bus.AgentSpawned{Agent: identity, Task: message})
	_, _ = m.store.UpdateTask(ctx, task.ID, store.TaskPatch{Status: ptr(store.TaskActive), Plan: &plan})

	toolCtx := m.newToolContext(sessionID, w.id, true, []string{"."})
	loopErr := m.runLoop(workerCtx, loopParams{
		sessionID:      sessionID,
		agentID:        w.id,
		role:           tools.RoleWorker,
		provider:       workerRouting.Provider,
		model:          workerRouting.Model,
		systemPrompt:   workerSystemPrompt,
		reasoningLevel: reasoningLevel,
		messages:       []llm.Message{{Role: "user", Content: buildWorkerTask(m.workdir, message, plan)}},
		toolCtx:        toolCtx,
		maxTurns:       complexPathTurns,
	})

	statusCtx := context.Background()
	switch {
	case workerCtx.Err() != nil:
		_, _ = m.store.UpdateTask(statusCtx, task.ID, store.TaskPatch{Status: ptr(store.TaskInterrupted)})
		return nil
	case loopErr != nil:
		errText := loopErr.Error()
		_, _ = m.store.UpdateTask(statusCtx, task.ID, store.TaskPatch{Status: ptr(store.TaskFailed), Error: &errText})
		return loopErr
	default:
		_, _ = m.store.UpdateTask(statusCtx, task.ID, store.TaskPatch{Status: ptr(store.TaskDone)})
	}

	m.publishThought(sessionID, "Finalizing the change set", bus.PhaseFinalizing)
	m.commitChanges(ctx, sessionID, message, managerRouting)
	return nil
}

// streamPlan asks the manager model for a short plan, publishing deltas as
// they arrive.
func (m *Manager) streamPlan(ctx context.Context, sessionID, message string, r routing) (string, error) {
	start := time.Now()
	events, err := m.llm.ExecuteWithRetry(ctx, llm.Request{
		Model:     r.Model,
		System:    plannerSystemPrompt,
		Messages:  []llm.Message{{Role: "user", Content: message}},
		MaxTokens: planMaxTokens,
	}, r.Provider)
	if err != nil {
		return "", err
	}

	var plan strings.Builder
	for ev := range events {
		switch ev.Type {
		case llm.EventContentDelta:
			plan.WriteString(ev.Content)
			m.bus.Publish(bus.TopicStreamDelta, sessionID, bus.StreamDelta{
				AgentID: managerAgentID, Content: ev.Content, Model: r.Model})
		case llm.EventError:
			return "", ev.Err
		}
	}

	m.trace.Append(trace.Event{Type: trace.EventPlanning, SessionID: sessionID,
		Data: map[string]any{"plan": plan.String(), "durationMs": time.Since(start).Milliseconds()}})
	return plan.String(), nil
}

// captureBaseline records the rollback point before a worker touches the
// tree: the current commit when inside a repo, a snapshot otherwise.
func (m *Manager) captureBaseline(ctx context.Context, sessionID string) {
	if m.git.IsRepo(ctx) {
		if hash, err := m.git.CurrentHash(ctx); err == nil {
			m.mu.Lock()
			m.lastGoodHash[sessionID] = hash
			m.mu.Unlock()
			return
		}
	}
	if err := m.snapshots.Create(sessionID, "latest", []string{"."}, m.workdir); err != nil {
		m.logger.Warn("baseline snapshot for %s: %v", sessionID, err)
	}
}

// commitChanges stages the ledger and commits with a generated message.
func (m *Manager) commitChanges(ctx context.Context, sessionID, taskMessage string, r routing) {
	changes := m.ledger.Get(sessionID)
	if len(changes) == 0 || !m.git.IsRepo(ctx) {
		return
	}

	message := m.generateCommitMessage(ctx, sessionID, taskMessage, changes, r)
	for _, c := range changes {
		if err := m.git.Stage(ctx, c.Path); err != nil {
			m.logger.Warn("stage %s: %v", c.Path, err)
		}
	}
	if err := m.git.Commit(ctx, message); err != nil {
		m.logger.Warn("commit session %s: %v", sessionID, err)
		return
	}
	m.bus.Publish(bus.TopicGitCommit, sessionID, bus.GitCommit{Message: message})
}

const fallbackCommitMessage = "feat: update project"

func (m *Manager) generateCommitMessage(ctx context.Context, sessionID, taskMessage string, changes []bus.ChangeSummary, r routing) string {
	start := time.Now()
	raw, err := m.completeText(ctx, llm.Request{
		Model:     r.Model,
		System:    commitSystemPrompt,
		Messages:  []llm.Message{{Role: "user", Content: buildCommitContext(taskMessage, changes)}},
		MaxTokens: commitMaxTokens,
	}, r.Provider)

	message := fallbackCommitMessage
	degraded := err != nil
	if err == nil {
		if cleaned := cleanCommitMessage(raw); cleaned != "" {
			message = cleaned
		}
	}
	m.trace.Append(trace.Event{Type: trace.EventCommitMessageGen, SessionID: sessionID,
		Data: map[string]any{"message": message, "degraded": degraded,
			"durationMs": time.Since(start).Milliseconds()}})
	return message
}

// cleanCommitMessage keeps the first line and strips wrapping quotes the
// model sometimes adds.
func cleanCommitMessage(raw string) string {
	line := strings.TrimSpace(raw)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	line = strings.Trim(line, "\"'`")
	return strings.TrimSpace(line)
}

// seedFromHistory loads the last stored turns and appends the new message.
func (m *Manager) seedFromHistory(ctx context.Context, sessionID, message string) []llm.Message {
	var seeded []llm.Message
	recent, err := m.store.GetRecentMessages(ctx, sessionID, 10)
	if err != nil {
		m.logger.Warn("load history for %s: %v", sessionID, err)
	}
	for _, msg := range recent {
		if msg.Role == store.RoleUser && msg.Content == message {
			// The just-persisted turn is re-appended below.
			continue
		}
		converted := llm.Message{Role: msg.Role, Content: msg.Content, ToolCallID: msg.ToolCallID}
		for _, call := range msg.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, llm.ToolCall{
				ID: call.ID, Name: call.Name, Arguments: call.Arguments})
		}
		seeded = append(seeded, converted)
	}
	return append(seeded, llm.Message{Role: "user", Content: message})
}

// completeText drains one non-tool streaming call into a string.
func (m *Manager) completeText(ctx context.Context, req llm.Request, preferredProvider string) (string, error) {
	events, err := m.llm.ExecuteWithRetry(ctx, req, preferredProvider)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for ev := range events {
		switch ev.Type {
		case llm.EventContentDelta:
			b.WriteString(ev.Content)
		case llm.EventError:
			return "", ev.Err
		}
	}
	return b.String(), nil
}

func ptr[T any](v T) *T { return &v }
