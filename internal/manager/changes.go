package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"kory/internal/bus"
)

// ApplyRequest selects which pending changes to accept or reject.
type ApplyRequest struct {
	AcceptAll   bool     `json:"acceptAll,omitempty"`
	RejectAll   bool     `json:"rejectAll,omitempty"`
	AcceptPaths []string `json:"acceptPaths,omitempty"`
	RejectPaths []string `json:"rejectPaths,omitempty"`
}

// ApplyResult reports the outcome of an accept/reject batch.
type ApplyResult struct {
	OK        bool                `json:"ok"`
	Remaining []bus.ChangeSummary `json:"remaining"`
	Applied   []string            `json:"applied,omitempty"`
	Rejected  []string            `json:"rejected,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// ApplySessionChanges resolves the session's pending ledger. Any restore
// failure aborts the batch with the offending path untouched.
func (m *Manager) ApplySessionChanges(ctx context.Context, sessionID string, req ApplyRequest) ApplyResult {
	switch {
	case req.AcceptAll:
		return m.acceptAll(sessionID)
	case req.RejectAll:
		return m.rejectAll(ctx, sessionID)
	default:
		return m.applyPaths(ctx, sessionID, req)
	}
}

func (m *Manager) acceptAll(sessionID string) ApplyResult {
	changes := m.ledger.Get(sessionID)
	applied := make([]string, 0, len(changes))
	for _, c := range changes {
		applied = append(applied, c.Path)
	}
	m.ledger.Clear(sessionID)
	m.bus.Publish(bus.TopicAcceptChanges, sessionID, struct{}{})
	return ApplyResult{OK: true, Remaining: nil, Applied: applied}
}

// rejectAll restores the baseline captured at start of run: the VCS hash if
// one was recorded, the "latest" snapshot otherwise.
func (m *Manager) rejectAll(ctx context.Context, sessionID string) ApplyResult {
	changes := m.ledger.Get(sessionID)

	m.mu.Lock()
	hash := m.lastGoodHash[sessionID]
	m.mu.Unlock()

	var err error
	if hash != "" && m.git.IsRepo(ctx) {
		err = m.git.Rollback(ctx, hash)
	} else {
		err = m.snapshots.Restore(sessionID, "latest", m.workdir)
	}
	if err != nil {
		return ApplyResult{OK: false, Remaining: changes,
			Error: fmt.Sprintf("restore failed: %v", err)}
	}

	rejected := make([]string, 0, len(changes))
	for _, c := range changes {
		rejected = append(rejected, c.Path)
	}
	m.ledger.Clear(sessionID)
	return ApplyResult{OK: true, Remaining: nil, Rejected: rejected}
}

func (m *Manager) applyPaths(ctx context.Context, sessionID string, req ApplyRequest) ApplyResult {
	changes := m.ledger.Get(sessionID)
	byPath := make(map[string]bus.ChangeSummary, len(changes))
	for _, c := range changes {
		byPath[c.Path] = c
	}

	var applied, rejected []string
	for _, path := range req.RejectPaths {
		change, ok := byPath[path]
		if !ok {
			return ApplyResult{OK: false, Remaining: m.ledger.Get(sessionID),
				Error: fmt.Sprintf("no pending change for %q", path)}
		}
		if err := m.restorePath(ctx, sessionID, change); err != nil {
			return ApplyResult{OK: false, Remaining: m.ledger.Get(sessionID),
				Error: fmt.Sprintf("restore %s: %v", path, err)}
		}
		m.ledger.Remove(sessionID, path)
		rejected = append(rejected, path)
	}
	for _, path := range req.AcceptPaths {
		if m.ledger.Remove(sessionID, path) {
			applied = append(applied, path)
		}
	}

	return ApplyResult{OK: true, Remaining: m.ledger.Get(sessionID),
		Applied: applied, Rejected: rejected}
}

// restorePath undoes one change. Creates are deleted outright; everything
// else goes through VCS restore when possible, then the snapshot. Paths
// outside the workdir never touch the VCS.
func (m *Manager) restorePath(ctx context.Context, sessionID string, change bus.ChangeSummary) error {
	abs := change.Path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(m.workdir, change.Path)
	}

	if change.Operation == "create" {
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	if !filepath.IsAbs(change.Path) && m.git.IsRepo(ctx) {
		if err := m.git.RestoreFile(ctx, change.Path); err == nil {
			return nil
		}
	}
	result, err := m.snapshots.RestoreFiles(sessionID, "latest", m.workdir, []string{change.Path})
	if err != nil {
		return err
	}
	if len(result.Missing) > 0 {
		return fmt.Errorf("path missing from snapshot")
	}
	return nil
}
