// Package vcs wraps the git CLI for working-tree inspection, staging,
// commits and rollbacks. A missing repository is a normal state; callers
// check IsRepo first.
package vcs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"kory/internal/logging"
)

// FileStatus describes one entry of the working-tree status.
type FileStatus struct {
	Path      string `json:"path"`
	OrigPath  string `json:"origPath,omitempty"` // set for renames
	Status    string `json:"status"`             // modified | added | deleted | renamed | untracked
	Staged    bool   `json:"staged"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// MergeResult reports the outcome of a merge attempt.
type MergeResult struct {
	OK           bool   `json:"ok"`
	Output       string `json:"output"`
	HasConflicts bool   `json:"hasConflicts"`
}

// Git runs git against a fixed working directory.
type Git struct {
	workdir string
	logger  logging.Logger
}

// New creates a git adapter for workdir.
func New(workdir string) *Git {
	return &Git{workdir: workdir, logger: logging.NewComponentLogger("vcs")}
}

// Workdir returns the directory the adapter operates in.
func (g *Git) Workdir() string {
	return g.workdir
}

// IsRepo reports whether workdir is inside a git work tree.
func (g *Git) IsRepo(ctx context.Context) bool {
	if _, err := exec.LookPath("git"); err != nil {
		return false
	}
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// Status parses porcelain v1 output plus numstat line counts.
func (g *Git) Status(ctx context.Context) ([]FileStatus, error) {
	out, err := g.runRaw(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	var statuses []FileStatus
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		entry := parsePorcelainLine(line)
		if entry != nil {
			statuses = append(statuses, *entry)
		}
	}

	g.fillLineCounts(ctx, statuses)
	return statuses, nil
}

// parsePorcelainLine decodes one `git status --porcelain` line. The first two
// columns are the index and work-tree status characters.
func parsePorcelainLine(line string) *FileStatus {
	index := line[0]
	worktree := line[1]
	path := strings.TrimSpace(line[3:])

	entry := &FileStatus{Path: path}
	switch {
	case index == '?' && worktree == '?':
		entry.Status = "untracked"
	case index == 'R':
		entry.Status = "renamed"
		entry.Staged = true
		if parts := strings.SplitN(path, " -> ", 2); len(parts) == 2 {
			entry.OrigPath = parts[0]
			entry.Path = parts[1]
		}
	case index == 'A':
		entry.Status = "added"
		entry.Staged = true
	case index == 'D' || worktree == 'D':
		entry.Status = "deleted"
		entry.Staged = index == 'D'
	case index == 'M':
		entry.Status = "modified"
		entry.Staged = true
	case worktree == 'M':
		entry.Status = "modified"
	default:
		entry.Status = "modified"
	}
	return entry
}

// fillLineCounts annotates statuses with numstat additions/deletions.
// Failures leave the counts at zero.
func (g *Git) fillLineCounts(ctx context.Context, statuses []FileStatus) {
	byPath := make(map[string]*FileStatus, len(statuses))
	for i := range statuses {
		byPath[statuses[i].Path] = &statuses[i]
	}

	for _, args := range [][]string{
		{"diff", "--numstat"},
		{"diff", "--numstat", "--cached"},
	} {
		out, err := g.runRaw(ctx, args...)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(out, "\n") {
			fields := strings.Split(line, "\t")
			if len(fields) < 3 {
				continue
			}
			path := fields[len(fields)-1]
			// Renames show as "old => new" or "prefix{old => new}suffix".
			if idx := strings.Index(path, " => "); idx != -1 {
				path = strings.Trim(path[idx+4:], "}")
			}
			entry, ok := byPath[path]
			if !ok {
				continue
			}
			if added, err := strconv.Atoi(fields[0]); err == nil {
				entry.Additions += added
			}
			if deleted, err := strconv.Atoi(fields[1]); err == nil {
				entry.Deletions += deleted
			}
		}
	}
}

// Diff returns the diff for a single path, staged or unstaged.
func (g *Git) Diff(ctx context.Context, path string, staged bool) (string, error) {
	args := []string{"diff"}
	if staged {
		args = append(args, "--cached")
	}
	args = append(args, "--", path)
	return g.runRaw(ctx, args...)
}

// FileAtHead returns the committed content of a path at HEAD.
func (g *Git) FileAtHead(ctx context.Context, path string) (string, error) {
	return g.runRaw(ctx, "show", "HEAD:"+path)
}

// Stage adds a path to the index.
func (g *Git) Stage(ctx context.Context, path string) error {
	_, err := g.run(ctx, "add", "--", path)
	return err
}

// Unstage removes a path from the index, keeping work-tree content.
func (g *Git) Unstage(ctx context.Context, path string) error {
	_, err := g.run(ctx, "reset", "HEAD", "--", path)
	return err
}

// RestoreFile discards work-tree changes to a path. Destructive.
func (g *Git) RestoreFile(ctx context.Context, path string) error {
	if _, err := g.run(ctx, "checkout", "HEAD", "--", path); err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}
	return nil
}

// Commit records the staged changes.
func (g *Git) Commit(ctx context.Context, message string) error {
	_, err := g.run(ctx, "commit", "-m", message)
	return err
}

// Branch returns the current branch name.
func (g *Git) Branch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// Checkout switches branches, optionally creating the branch.
func (g *Git) Checkout(ctx context.Context, name string, create bool) error {
	args := []string{"checkout"}
	if create {
		args = append(args, "-b")
	}
	args = append(args, name)
	_, err := g.run(ctx, args...)
	return err
}

// Merge merges a branch into the current one. Conflicts are reported, not
// returned as errors.
func (g *Git) Merge(ctx context.Context, name string) MergeResult {
	out, err := g.run(ctx, "merge", name)
	if err == nil {
		return MergeResult{OK: true, Output: out}
	}
	msg := err.Error()
	if strings.Contains(msg, "CONFLICT") || strings.Contains(msg, "Automatic merge failed") {
		return MergeResult{Output: msg, HasConflicts: true}
	}
	return MergeResult{Output: msg}
}

// Conflicts lists paths with unresolved merge conflicts.
func (g *Git) Conflicts(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Pull fetches and integrates from the tracked remote.
func (g *Git) Pull(ctx context.Context) (string, error) {
	return g.run(ctx, "pull")
}

// Push publishes the current branch to the tracked remote.
func (g *Git) Push(ctx context.Context) (string, error) {
	return g.run(ctx, "push")
}

// CurrentHash returns the HEAD commit hash.
func (g *Git) CurrentHash(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "HEAD")
}

// Rollback hard-resets to hash and removes untracked files. Destructive.
func (g *Git) Rollback(ctx context.Context, hash string) error {
	if _, err := g.run(ctx, "reset", "--hard", hash); err != nil {
		return fmt.Errorf("reset to %s: %w", hash, err)
	}
	if _, err := g.run(ctx, "clean", "-fd"); err != nil {
		return fmt.Errorf("clean after reset: %w", err)
	}
	return nil
}

// run executes git and returns trimmed combined output.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	out, err := g.runRaw(ctx, args...)
	return strings.TrimSpace(out), err
}

func (g *Git) runRaw(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.workdir
	cmd.Env = mergeEnv(os.Environ(), map[string]string{
		"GIT_PAGER":           "cat",
		"GIT_TERMINAL_PROMPT": "0",
		"GIT_SSH_COMMAND":     "ssh -oBatchMode=yes",
		"NO_COLOR":            "1",
	})
	output, err := cmd.CombinedOutput()
	result := string(output)
	if err != nil {
		cleaned := strings.TrimSpace(result)
		if cleaned != "" {
			return "", fmt.Errorf("git %s failed: %s", strings.Join(args, " "), cleaned)
		}
		return "", fmt.Errorf("git %s failed: %w", strings.Join(args, " "), err)
	}
	return result, nil
}

func mergeEnv(base []string, overrides map[string]string) []string {
	env := make(map[string]string, len(base)+len(overrides))
	for _, entry := range base {
		if idx := strings.Index(entry, "="); idx != -1 {
			env[entry[:idx]] = entry[idx+1:]
		}
	}
	for key, value := range overrides {
		env[key] = value
	}

	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	merged := make([]string, 0, len(env))
	for _, key := range keys {
		merged = append(merged, fmt.Sprintf("%s=%s", key, env[key]))
	}
	return merged
}
