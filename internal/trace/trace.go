// Package trace appends orchestration decisions to a JSONL file so runs can
// be audited after the fact. Writes are best-effort; tracing never fails a
// pipeline.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"kory/internal/logging"
)

// Event types written by the manager pipeline.
const (
	EventComplexityClassification = "complexity_classification"
	EventPlanning                 = "planning"
	EventLLMTurn                  = "llm_turn"
	EventToolExecution            = "tool_execution"
	EventExecutionLoopComplete    = "execution_loop_complete"
	EventClarificationAsked       = "clarification_asked"
	EventClarificationAnswered    = "clarification_answered"
	EventClarificationSkipped     = "clarification_skipped"
	EventDirectExecution          = "direct_execution"
	EventCommitMessageGen         = "commit_message_gen"
)

// Event is one trace record.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId,omitempty"`
	AgentID   string         `json:"agentId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sink serializes events to one JSONL file per process.
type Sink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	logger logging.Logger
}

// NewSink opens (or creates) the trace file under dir. The pid in the name
// keeps concurrent processes from interleaving lines.
func NewSink(dir string) *Sink {
	return &Sink{
		path:   filepath.Join(dir, fmt.Sprintf("kory-trace-%d.log", os.Getpid())),
		logger: logging.NewComponentLogger("trace"),
	}
}

// Append writes one event. Failures are logged and swallowed.
func (s *Sink) Append(ev Event) {
	if s == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			s.logger.Warn("trace dir: %v", err)
			return
		}
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			s.logger.Warn("open trace file: %v", err)
			return
		}
		s.file = f
	}

	line, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("encode trace event: %v", err)
		return
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		s.logger.Warn("write trace event: %v", err)
	}
}

// Path returns the trace file location.
func (s *Sink) Path() string { return s.path }

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
