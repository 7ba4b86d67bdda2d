package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"kory/internal/tools"
)

type fileRead struct {
	maxFileSize int64
}

// NewFileRead creates the read_file tool. maxFileSize of 0 means no limit.
func NewFileRead(maxFileSize int64) tools.Executor {
	return &fileRead{maxFileSize: maxFileSize}
}

func (t *fileRead) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	path, ok := tools.StringArg(call, "path")
	if !ok {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'path'")}, nil
	}

	tc := tools.FromContext(ctx)
	resolved, err := tc.ResolvePath(path)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: err}, nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("read %s: %w", path, err)}, nil
	}
	if t.maxFileSize > 0 && info.Size() > t.maxFileSize {
		return &tools.ToolResult{CallID: call.ID,
			Error: fmt.Errorf("file %s is %d bytes, over the %d byte limit", path, info.Size(), t.maxFileSize)}, nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("read %s: %w", path, err)}, nil
	}

	content := string(data)
	offset := tools.IntArg(call, "offset", 0)
	limit := tools.IntArg(call, "limit", 0)
	if offset > 0 || limit > 0 {
		lines := strings.Split(content, "\n")
		if offset >= len(lines) {
			content = ""
		} else {
			end := len(lines)
			if limit > 0 && offset+limit < end {
				end = offset + limit
			}
			content = strings.Join(lines[offset:end], "\n")
		}
	}

	return &tools.ToolResult{
		CallID:  call.ID,
		Content: content,
		Metadata: map[string]any{
			"path":  tc.Rel(resolved),
			"bytes": info.Size(),
			"lines": countLines(string(data)),
		},
	}, nil
}

func (t *fileRead) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file's contents, optionally a line range",
		Parameters: tools.ParameterSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"path":   {Type: "string", Description: "File path, relative to the working directory"},
				"offset": {Type: "integer", Description: "First line to return (0-based)"},
				"limit":  {Type: "integer", Description: "Maximum number of lines to return"},
			},
			Required: []string{"path"},
		},
	}
}

func (t *fileRead) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name: "read_file", Version: "1.0.0", Category: "file",
		Roles: []string{tools.RoleManager, tools.RoleWorker},
	}
}
