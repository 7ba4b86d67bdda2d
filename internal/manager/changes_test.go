package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kory/internal/bus"
)

func TestRejectAllRestoresFromVCSHash(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	initRepo(t, env.workdir)
	require.NoError(t, os.WriteFile(filepath.Join(env.workdir, "a.txt"), []byte("original\n"), 0o644))
	commitAll(t, env.workdir, "initial")

	ctx := context.Background()
	sessionID := env.newSession(t)
	env.manager.captureBaseline(ctx, sessionID)

	require.NoError(t, os.WriteFile(filepath.Join(env.workdir, "a.txt"), []byte("mutated\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(env.workdir, "new.txt"), []byte("added\n"), 0o644))
	env.manager.ledger.Append(sessionID, bus.ChangeSummary{Path: "a.txt", LinesAdded: 1, LinesDeleted: 1, Operation: "edit"})
	env.manager.ledger.Append(sessionID, bus.ChangeSummary{Path: "new.txt", LinesAdded: 1, Operation: "create"})

	result := env.manager.ApplySessionChanges(ctx, sessionID, ApplyRequest{RejectAll: true})
	require.True(t, result.OK, result.Error)
	assert.Empty(t, result.Remaining)
	assert.Len(t, result.Rejected, 2)

	data, err := os.ReadFile(filepath.Join(env.workdir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(data))
	_, err = os.Stat(filepath.Join(env.workdir, "new.txt"))
	assert.True(t, os.IsNotExist(err))

	assert.Empty(t, env.manager.GetSessionChanges(sessionID))

	statuses, err := env.manager.git.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestRejectAllRestoresFromSnapshot(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	require.NoError(t, os.WriteFile(filepath.Join(env.workdir, "a.txt"), []byte("original\n"), 0o644))

	ctx := context.Background()
	sessionID := env.newSession(t)
	env.manager.captureBaseline(ctx, sessionID)

	require.NoError(t, os.WriteFile(filepath.Join(env.workdir, "a.txt"), []byte("mutated\n"), 0o644))
	env.manager.ledger.Append(sessionID, bus.ChangeSummary{Path: "a.txt", Operation: "edit"})

	result := env.manager.ApplySessionChanges(ctx, sessionID, ApplyRequest{RejectAll: true})
	require.True(t, result.OK, result.Error)

	data, err := os.ReadFile(filepath.Join(env.workdir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(data))
}

func TestRejectAllWithoutBaselineFails(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	sessionID := env.newSession(t)
	env.manager.ledger.Append(sessionID, bus.ChangeSummary{Path: "a.txt", Operation: "edit"})

	result := env.manager.ApplySessionChanges(context.Background(), sessionID, ApplyRequest{RejectAll: true})
	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Error)
	// The ledger is untouched so the user can retry.
	assert.Len(t, env.manager.GetSessionChanges(sessionID), 1)
}

func TestPerPathRejectCreateDeletesFile(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	sessionID := env.newSession(t)

	require.NoError(t, os.WriteFile(filepath.Join(env.workdir, "kept.txt"), []byte("keep\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(env.workdir, "drop.txt"), []byte("drop\n"), 0o644))
	env.manager.ledger.Append(sessionID, bus.ChangeSummary{Path: "kept.txt", Operation: "create"})
	env.manager.ledger.Append(sessionID, bus.ChangeSummary{Path: "drop.txt", Operation: "create"})

	result := env.manager.ApplySessionChanges(ctx, sessionID, ApplyRequest{
		AcceptPaths: []string{"kept.txt"},
		RejectPaths: []string{"drop.txt"},
	})
	require.True(t, result.OK, result.Error)
	assert.Equal(t, []string{"kept.txt"}, result.Applied)
	assert.Equal(t, []string{"drop.txt"}, result.Rejected)
	assert.Empty(t, result.Remaining)

	_, err := os.Stat(filepath.Join(env.workdir, "drop.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(env.workdir, "kept.txt"))
	assert.NoError(t, err)
}

func TestPerPathRejectEditRestoresFromVCS(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	initRepo(t, env.workdir)
	require.NoError(t, os.WriteFile(filepath.Join(env.workdir, "a.txt"), []byte("original\n"), 0o644))
	commitAll(t, env.workdir, "initial")

	ctx := context.Background()
	sessionID := env.newSession(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.workdir, "a.txt"), []byte("mutated\n"), 0o644))
	env.manager.ledger.Append(sessionID, bus.ChangeSummary{Path: "a.txt", Operation: "edit"})

	result := env.manager.ApplySessionChanges(ctx, sessionID, ApplyRequest{RejectPaths: []string{"a.txt"}})
	require.True(t, result.OK, result.Error)

	data, err := os.ReadFile(filepath.Join(env.workdir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(data))
}

func TestPerPathRejectUnknownPathAborts(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	sessionID := env.newSession(t)
	env.manager.ledger.Append(sessionID, bus.ChangeSummary{Path: "a.txt", Operation: "edit"})

	result := env.manager.ApplySessionChanges(context.Background(), sessionID, ApplyRequest{
		RejectPaths: []string{"a.txt", "ghost.txt"},
	})
	// Order of reject processing is the request order, so the unknown path
	// aborts the batch; a.txt may or may not have been processed first.
	if result.OK {
		t.Fatalf("expected batch to abort on unknown path")
	}
	assert.NotEmpty(t, result.Error)
}

func TestAcceptAllPublishesEvent(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	sessionID := env.newSession(t)
	env.manager.ledger.Append(sessionID, bus.ChangeSummary{Path: "a.txt", Operation: "edit"})

	result := env.manager.ApplySessionChanges(context.Background(), sessionID, ApplyRequest{AcceptAll: true})
	require.True(t, result.OK)
	assert.Equal(t, []string{"a.txt"}, result.Applied)

	seen := topics(env.drainEvents())
	assert.Contains(t, seen, bus.TopicAcceptChanges)
}

func TestRejectOutsideWorkdirPathSkipsVCS(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	outside := filepath.Join(t.TempDir(), "abs.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x\n"), 0o644))

	sessionID := env.newSession(t)
	env.manager.ledger.Append(sessionID, bus.ChangeSummary{Path: outside, Operation: "create"})

	result := env.manager.ApplySessionChanges(context.Background(), sessionID, ApplyRequest{
		RejectPaths: []string{outside},
	})
	require.True(t, result.OK, result.Error)
	_, err := os.Stat(outside)
	assert.True(t, os.IsNotExist(err))
}
