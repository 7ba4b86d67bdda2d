package builtin

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"kory/internal/tools"
)

const (
	maxGlobResults = 500
	maxGrepResults = 200
)

type globTool struct{}

// NewGlob creates the glob tool.
func NewGlob() tools.Executor {
	return &globTool{}
}

func (t *globTool) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	pattern, ok := tools.StringArg(call, "pattern")
	if !ok {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'pattern'")}, nil
	}

	tc := tools.FromContext(ctx)
	root := tc.Workdir
	if sub, ok := tools.StringArg(call, "path"); ok && sub != "" {
		resolved, err := tc.ResolvePath(sub)
		if err != nil {
			return &tools.ToolResult{CallID: call.ID, Error: err}, nil
		}
		root = resolved
	}

	matches, err := doublestar.Glob(os.DirFS(root), pattern)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("glob %q: %w", pattern, err)}, nil
	}

	var files []string
	for _, match := range matches {
		if strings.HasPrefix(match, ".git/") || match == ".git" {
			continue
		}
		files = append(files, match)
		if len(files) >= maxGlobResults {
			break
		}
	}
	sort.Strings(files)

	return &tools.ToolResult{
		CallID:   call.ID,
		Content:  strings.Join(files, "\n"),
		Metadata: map[string]any{"matches": len(files)},
	}, nil
}

func (t *globTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "glob",
		Description: "Find files matching a glob pattern (supports ** recursion)",
		Parameters: tools.ParameterSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"pattern": {Type: "string", Description: "Glob pattern, e.g. **/*.go"},
				"path":    {Type: "string", Description: "Directory to search in (defaults to the working directory)"},
			},
			Required: []string{"pattern"},
		},
	}
}

func (t *globTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name: "glob", Version: "1.0.0", Category: "search",
		Roles: []string{tools.RoleManager, tools.RoleWorker},
	}
}

type grepTool struct{}

// NewGrep creates the grep tool, a recursive regexp search.
func NewGrep() tools.Executor {
	return &grepTool{}
}

func (t *grepTool) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	pattern, ok := tools.StringArg(call, "pattern")
	if !ok {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'pattern'")}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("invalid pattern: %w", err)}, nil
	}

	tc := tools.FromContext(ctx)
	root := tc.Workdir
	if sub, ok := tools.StringArg(call, "path"); ok && sub != "" {
		resolved, resolveErr := tc.ResolvePath(sub)
		if resolveErr != nil {
			return &tools.ToolResult{CallID: call.ID, Error: resolveErr}, nil
		}
		root = resolved
	}

	include, _ := tools.StringArg(call, "include")

	var lines []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(lines) >= maxGrepResults {
			return filepath.SkipAll
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if include != "" {
			matched, matchErr := doublestar.Match(include, rel)
			if matchErr != nil || !matched {
				return nil
			}
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil || !isText(data) {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				lines = append(lines, fmt.Sprintf("%s:%d:%s", rel, i+1, line))
				if len(lines) >= maxGrepResults {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("grep: %w", err)}, nil
	}

	return &tools.ToolResult{
		CallID:   call.ID,
		Content:  strings.Join(lines, "\n"),
		Metadata: map[string]any{"matches": len(lines)},
	}, nil
}

// isText rejects binary files by looking for NUL bytes in the head.
func isText(data []byte) bool {
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	for _, b := range head {
		if b == 0 {
			return false
		}
	}
	return true
}

func (t *grepTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "grep",
		Description: "Search file contents recursively with a regular expression",
		Parameters: tools.ParameterSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"pattern": {Type: "string", Description: "Regular expression to search for"},
				"path":    {Type: "string", Description: "Directory to search in (defaults to the working directory)"},
				"include": {Type: "string", Description: "Glob filter for file names, e.g. *.go"},
			},
			Required: []string{"pattern"},
		},
	}
}

func (t *grepTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name: "grep", Version: "1.0.0", Category: "search",
		Roles: []string{tools.RoleManager, tools.RoleWorker},
	}
}

type listDir struct{}

// NewListDir creates the list_dir tool.
func NewListDir() tools.Executor {
	return &listDir{}
}

func (t *listDir) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	tc := tools.FromContext(ctx)
	root := tc.Workdir
	if sub, ok := tools.StringArg(call, "path"); ok && sub != "" {
		resolved, err := tc.ResolvePath(sub)
		if err != nil {
			return &tools.ToolResult{CallID: call.ID, Error: err}, nil
		}
		root = resolved
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("list %s: %w", root, err)}, nil
	}

	var lines []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	sort.Strings(lines)

	return &tools.ToolResult{
		CallID:   call.ID,
		Content:  strings.Join(lines, "\n"),
		Metadata: map[string]any{"entries": len(lines)},
	}, nil
}

func (t *listDir) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "list_dir",
		Description: "List the entries of a directory",
		Parameters: tools.ParameterSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"path": {Type: "string", Description: "Directory path (defaults to the working directory)"},
			},
		},
	}
}

func (t *listDir) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name: "list_dir", Version: "1.0.0", Category: "search",
		Roles: []string{tools.RoleManager, tools.RoleWorker},
	}
}
