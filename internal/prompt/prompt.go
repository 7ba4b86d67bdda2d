// Package prompt parks questions raised toward the user and resolves them
// when an answer arrives over the inbound API.
package prompt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"kory/internal/bus"
	"kory/internal/logging"
)

// DefaultTimeout bounds how long a caller waits for a user answer.
const DefaultTimeout = 120 * time.Second

// ErrTimeout is returned when no answer arrives within the timeout.
var ErrTimeout = fmt.Errorf("prompt timed out waiting for user input")

// ErrCancelled is returned when the session is cancelled while waiting.
var ErrCancelled = fmt.Errorf("prompt cancelled")

// Answer is the user's reply to a pending prompt.
type Answer struct {
	Selection string
	Text      string
}

type entry struct {
	requestID string
	addedAt   time.Time
	done      chan Answer // one-shot, buffered
}

// Publisher emits the ask_user event toward connected clients.
type Publisher func(sessionID string, payload bus.AskUser)

// Table holds pending prompts per session.
type Table struct {
	mu      sync.Mutex
	pending map[string][]*entry // session id -> prompts, oldest first
	publish Publisher
	timeout time.Duration
	logger  logging.Logger
}

func NewTable(publish Publisher, timeout time.Duration) *Table {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Table{
		pending: make(map[string][]*entry),
		publish: publish,
		timeout: timeout,
		logger:  logging.NewComponentLogger("prompt"),
	}
}

// Ask publishes a question with a fresh request id and parks until the
// answer arrives, the timeout fires, or the context is cancelled.
func (t *Table) Ask(ctx context.Context, sessionID, question string, options []string, allowOther bool) (Answer, error) {
	e := &entry{
		requestID: uuid.NewString(),
		addedAt:   time.Now(),
		done:      make(chan Answer, 1),
	}

	t.mu.Lock()
	t.pending[sessionID] = append(t.pending[sessionID], e)
	t.mu.Unlock()
	defer t.drop(sessionID, e.requestID)

	if t.publish != nil {
		t.publish(sessionID, bus.AskUser{
			Question:   question,
			Options:    options,
			AllowOther: allowOther,
			RequestID:  e.requestID,
		})
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case answer, ok := <-e.done:
		if !ok {
			return Answer{}, ErrCancelled
		}
		return answer, nil
	case <-timer.C:
		t.logger.Warn("prompt %s for session %s timed out", e.requestID, sessionID)
		return Answer{}, ErrTimeout
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	}
}

// Resolve completes a pending prompt. An empty requestID targets the most
// recently added prompt of the session. Returns false if nothing matched.
func (t *Table) Resolve(sessionID, requestID string, answer Answer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.pending[sessionID]
	if len(entries) == 0 {
		return false
	}

	idx := -1
	if requestID == "" {
		idx = len(entries) - 1
	} else {
		for i, e := range entries {
			if e.requestID == requestID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return false
	}

	e := entries[idx]
	t.pending[sessionID] = append(entries[:idx], entries[idx+1:]...)
	e.done <- answer
	return true
}

// CancelSession unblocks every pending prompt of a session with an error.
func (t *Table) CancelSession(sessionID string) {
	t.mu.Lock()
	entries := t.pending[sessionID]
	delete(t.pending, sessionID)
	t.mu.Unlock()

	for _, e := range entries {
		close(e.done)
	}
}

// PendingCount reports how many prompts a session has outstanding.
func (t *Table) PendingCount(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[sessionID])
}

func (t *Table) drop(sessionID, requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.pending[sessionID]
	for i, e := range entries {
		if e.requestID == requestID {
			t.pending[sessionID] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}
