// Package ledger accumulates per-session file change summaries between runs
// and the user's accept/reject decision.
package ledger

import (
	"sync"

	"kory/internal/bus"
)

// Ledger tracks changes per session. Repeat writes to the same path fold
// into one summary.
type Ledger struct {
	mu       sync.Mutex
	sessions map[string][]bus.ChangeSummary
}

func New() *Ledger {
	return &Ledger{sessions: make(map[string][]bus.ChangeSummary)}
}

// Append records a change. If the path already has an entry the two merge:
// line counts accumulate, delete wins over any prior operation, and a create
// followed by an edit stays a create.
func (l *Ledger) Append(sessionID string, change bus.ChangeSummary) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.sessions[sessionID]
	for i, existing := range entries {
		if existing.Path != change.Path {
			continue
		}
		merged := existing
		merged.LinesAdded += change.LinesAdded
		merged.LinesDeleted += change.LinesDeleted
		merged.Operation = mergeOperation(existing.Operation, change.Operation)
		entries[i] = merged
		return
	}
	l.sessions[sessionID] = append(entries, change)
}

func mergeOperation(prev, next string) string {
	if next == "delete" || prev == "delete" {
		return "delete"
	}
	if prev == "create" {
		return "create"
	}
	return next
}

// Get returns a copy of the session's changes in first-touch order.
func (l *Ledger) Get(sessionID string) []bus.ChangeSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.sessions[sessionID]
	out := make([]bus.ChangeSummary, len(entries))
	copy(out, entries)
	return out
}

// Clear drops all changes for a session.
func (l *Ledger) Clear(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
}

// Remove drops the entry for one path, returning whether it existed.
func (l *Ledger) Remove(sessionID, path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.sessions[sessionID]
	for i, existing := range entries {
		if existing.Path == path {
			l.sessions[sessionID] = append(entries[:i], entries[i+1:]...)
			return true
		}
	}
	return false
}
