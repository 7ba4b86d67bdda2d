// Package manager drives the two-tier orchestration pipeline: clarify,
// classify, then either the manager's own fast path or a planned, sandboxed
// worker run.
package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kory/internal/bus"
	"kory/internal/config"
	"kory/internal/ledger"
	"kory/internal/llm"
	"kory/internal/logging"
	"kory/internal/prompt"
	"kory/internal/snapshot"
	"kory/internal/store"
	"kory/internal/tools"
	"kory/internal/trace"
	"kory/internal/vcs"
)

const (
	managerAgentID   = "kory-manager"
	fastPathTurns    = 5
	complexPathTurns = 15
	clarifyTimeout   = 10 * time.Second
	planMaxTokens    = 500
	commitMaxTokens  = 60
)

type worker struct {
	id        string
	sessionID string
	taskID    string
	cancel    context.CancelFunc
}

// Manager owns the per-session pipelines and all shared orchestration state.
type Manager struct {
	cfg       *config.Config
	store     *store.Store
	bus       *bus.Bus
	ledger    *ledger.Ledger
	prompts   *prompt.Table
	snapshots *snapshot.Store
	git       *vcs.Git
	tools     *tools.Registry
	llm       *llm.Registry
	trace     *trace.Sink
	workdir   string
	logger    logging.Logger

	mu           sync.Mutex
	yolo         bool
	running      map[string]context.CancelFunc // session id -> pipeline cancel
	workers      map[string]*worker
	lastGoodHash map[string]string
}

// Options carries the collaborators a Manager needs.
type Options struct {
	Config    *config.Config
	Store     *store.Store
	Bus       *bus.Bus
	Ledger    *ledger.Ledger
	Snapshots *snapshot.Store
	Git       *vcs.Git
	Tools     *tools.Registry
	LLM       *llm.Registry
	Trace     *trace.Sink
	Workdir   string
}

func New(opts Options) *Manager {
	m := &Manager{
		cfg:          opts.Config,
		store:        opts.Store,
		bus:          opts.Bus,
		ledger:       opts.Ledger,
		snapshots:    opts.Snapshots,
		git:          opts.Git,
		tools:        opts.Tools,
		llm:          opts.LLM,
		trace:        opts.Trace,
		workdir:      opts.Workdir,
		logger:       logging.NewComponentLogger("manager"),
		running:      make(map[string]context.CancelFunc),
		workers:      make(map[string]*worker),
		lastGoodHash: make(map[string]string),
	}
	m.prompts = prompt.NewTable(func(sessionID string, payload bus.AskUser) {
		m.bus.Publish(bus.TopicAskUser, sessionID, payload)
	}, prompt.DefaultTimeout)
	return m
}

// Process starts the pipeline for a session asynchronously. A session runs
// at most one pipeline at a time.
func (m *Manager) Process(sessionID, userMessage, preferredModel, reasoningLevel string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(userMessage) == "" {
		return fmt.Errorf("message is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if _, busy := m.running[sessionID]; busy {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("session %s is already running", sessionID)
	}
	m.running[sessionID] = cancel
	m.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			m.mu.Lock()
			delete(m.running, sessionID)
			m.mu.Unlock()
		}()
		m.runPipeline(ctx, sessionID, userMessage, preferredModel, reasoningLevel)
	}()
	return nil
}

// IsSessionRunning reports whether a pipeline is active for the session.
func (m *Manager) IsSessionRunning(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[sessionID]
	return ok
}

// SetYoloMode toggles automatic confirmation of destructive-operation
// prompts.
func (m *Manager) SetYoloMode(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.yolo = enabled
}

// YoloMode reports the current setting.
func (m *Manager) YoloMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.yolo
}

// HandleUserInput resolves a pending prompt. An empty requestID targets the
// session's most recent prompt.
func (m *Manager) HandleUserInput(sessionID, selection, text, requestID string) bool {
	return m.prompts.Resolve(sessionID, requestID, prompt.Answer{Selection: selection, Text: text})
}

// HandleSessionResponse is the accept/reject convenience wrapper.
func (m *Manager) HandleSessionResponse(ctx context.Context, sessionID string, accepted bool) ApplyResult {
	if accepted {
		return m.ApplySessionChanges(ctx, sessionID, ApplyRequest{AcceptAll: true})
	}
	return m.ApplySessionChanges(ctx, sessionID, ApplyRequest{RejectAll: true})
}

// GetSessionChanges returns the session's pending change summaries.
func (m *Manager) GetSessionChanges(sessionID string) []bus.ChangeSummary {
	return m.ledger.Get(sessionID)
}

// Status is the GetStatus payload.
type Status struct {
	RunningSessions []string             `json:"runningSessions"`
	ActiveWorkers   []string             `json:"activeWorkers"`
	YoloMode        bool                 `json:"yoloMode"`
	Providers       []llm.ProviderStatus `json:"providers"`
}

// GetStatus reports running sessions, workers, and provider health.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	sessions := make([]string, 0, len(m.running))
	for id := range m.running {
		sessions = append(sessions, id)
	}
	workerIDs := make([]string, 0, len(m.workers))
	for id := range m.workers {
		workerIDs = append(workerIDs, id)
	}
	yolo := m.yolo
	m.mu.Unlock()

	return Status{
		RunningSessions: sessions,
		ActiveWorkers:   workerIDs,
		YoloMode:        yolo,
		Providers:       m.llm.GetStatus(),
	}
}

// Cancel stops every running pipeline and worker.
func (m *Manager) Cancel() {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.running))
	sessions := make([]string, 0, len(m.running))
	for id, cancel := range m.running {
		cancels = append(cancels, cancel)
		sessions = append(sessions, id)
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, id := range sessions {
		m.prompts.CancelSession(id)
	}
}

// CancelWorker stops one worker by id.
func (m *Manager) CancelWorker(workerID string) bool {
	m.mu.Lock()
	w, ok := m.workers[workerID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	w.cancel()
	return true
}

// CancelSessionWorkers stops the session's pipeline and unblocks its
// prompts. The ledger is preserved for the accept/reject decision.
func (m *Manager) CancelSessionWorkers(sessionID string) {
	m.mu.Lock()
	cancel := m.running[sessionID]
	var sessionWorkers []*worker
	for _, w := range m.workers {
		if w.sessionID == sessionID {
			sessionWorkers = append(sessionWorkers, w)
		}
	}
	m.mu.Unlock()

	for _, w := range sessionWorkers {
		w.cancel()
	}
	if cancel != nil {
		cancel()
	}
	m.prompts.CancelSession(sessionID)
}

func (m *Manager) registerWorker(sessionID, taskID string, cancel context.CancelFunc) *worker {
	w := &worker{
		id:        "worker-" + uuid.NewString()[:6],
		sessionID: sessionID,
		taskID:    taskID,
		cancel:    cancel,
	}
	m.mu.Lock()
	m.workers[w.id] = w
	m.mu.Unlock()
	return w
}

func (m *Manager) unregisterWorker(id string) {
	m.mu.Lock()
	delete(m.workers, id)
	m.mu.Unlock()
}

// askUser parks the pipeline on a user prompt, flipping workflow state to
// waiting_user for the duration.
func (m *Manager) askUser(ctx context.Context, sessionID, question string, options []string, allowOther bool) (string, error) {
	_ = m.store.SetWorkflowState(ctx, sessionID, store.StateWaitingUser)
	answer, err := m.prompts.Ask(ctx, sessionID, question, options, allowOther)
	_ = m.store.SetWorkflowState(ctx, sessionID, store.StateAnalyzing)
	if err != nil {
		return "", err
	}
	if answer.Text != "" {
		return answer.Text, nil
	}
	return answer.Selection, nil
}

func (m *Manager) setState(ctx context.Context, sessionID, state string) {
	if err := m.store.SetWorkflowState(ctx, sessionID, state); err != nil {
		m.logger.Warn("set workflow state %s for %s: %v", state, sessionID, err)
	}
}

func (m *Manager) publishThought(sessionID, thought, phase string) {
	m.bus.Publish(bus.TopicThought, sessionID, bus.Thought{Thought: thought, Phase: phase})
}

func (m *Manager) publishError(sessionID string, err error) {
	m.bus.Publish(bus.TopicSystemError, sessionID, bus.SystemError{Error: err.Error()})
}
