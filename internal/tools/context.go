package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"kory/internal/bus"
)

// DefaultTimeout bounds a single tool invocation unless config overrides it.
const DefaultTimeout = 60 * time.Second

// ToolContext carries per-invocation state into a tool: the session, the
// working directory, sandbox limits and the callbacks write-class tools use
// to report changes.
type ToolContext struct {
	SessionID    string
	AgentID      string
	Workdir      string
	Sandboxed    bool
	AllowedPaths []string
	Timeout      time.Duration

	EmitFileEdit     func(path, delta string, totalLength int, operation string)
	EmitFileComplete func(path string, totalLines int, operation string)
	RecordChange     func(change bus.ChangeSummary)

	// AskUser parks until the user answers or the prompt times out.
	AskUser func(ctx context.Context, question string, options []string, allowOther bool) (string, error)
}

type toolContextKey struct{}

// WithToolContext attaches tc to ctx.
func WithToolContext(ctx context.Context, tc *ToolContext) context.Context {
	return context.WithValue(ctx, toolContextKey{}, tc)
}

// FromContext returns the attached ToolContext, or a permissive default
// rooted at the current directory.
func FromContext(ctx context.Context) *ToolContext {
	if tc, ok := ctx.Value(toolContextKey{}).(*ToolContext); ok && tc != nil {
		return tc
	}
	return &ToolContext{Workdir: ".", AllowedPaths: []string{"/"}, Timeout: DefaultTimeout}
}

// ResolvePath normalizes raw against the working directory and enforces the
// sandbox. Sandboxed contexts reject any path that escapes workdir joined
// with an allowed path.
func (tc *ToolContext) ResolvePath(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	resolved := trimmed
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(tc.Workdir, resolved)
	}
	resolved = filepath.Clean(resolved)

	if !tc.Sandboxed {
		return resolved, nil
	}

	for _, allowed := range tc.AllowedPaths {
		base := allowed
		if !filepath.IsAbs(base) {
			base = filepath.Join(tc.Workdir, base)
		}
		if pathWithinBase(base, resolved) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("path %q escapes the working directory", raw)
}

// Rel returns the path relative to workdir when possible, for ledger and
// event reporting.
func (tc *ToolContext) Rel(path string) string {
	rel, err := filepath.Rel(tc.Workdir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

func pathWithinBase(base, target string) bool {
	baseClean, err := filepath.Abs(filepath.Clean(base))
	if err != nil {
		return false
	}
	targetClean, err := filepath.Abs(filepath.Clean(target))
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(baseClean, targetClean)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return false
	}
	return true
}
