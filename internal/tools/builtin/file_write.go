package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"kory/internal/tools"
)

type fileWrite struct{}

// NewFileWrite creates the write_file tool.
func NewFileWrite() tools.Executor {
	return &fileWrite{}
}

func (t *fileWrite) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	path, ok := tools.StringArg(call, "path")
	if !ok {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'path'")}, nil
	}
	content, ok := tools.StringArg(call, "content")
	if !ok {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'content'")}, nil
	}

	tc := tools.FromContext(ctx)
	resolved, err := tc.ResolvePath(path)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: err}, nil
	}

	before := ""
	operation := "create"
	if data, readErr := os.ReadFile(resolved); readErr == nil {
		before = string(data)
		operation = "edit"
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("create parent directory: %w", err)}, nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("write %s: %w", path, err)}, nil
	}

	recordWrite(tc, resolved, before, content, operation)

	return &tools.ToolResult{
		CallID:  call.ID,
		Content: fmt.Sprintf("Wrote %d bytes to %s", len(content), tc.Rel(resolved)),
		Metadata: map[string]any{
			"path":      tc.Rel(resolved),
			"operation": operation,
			"bytes":     len(content),
		},
	}, nil
}

func (t *fileWrite) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "write_file",
		Description: "Create or overwrite a file with the given content",
		Parameters: tools.ParameterSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"path":    {Type: "string", Description: "File path, relative to the working directory"},
				"content": {Type: "string", Description: "Full file content"},
			},
			Required: []string{"path", "content"},
		},
	}
}

func (t *fileWrite) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name: "write_file", Version: "1.0.0", Category: "file", Dangerous: true,
		Roles: []string{tools.RoleManager, tools.RoleWorker},
	}
}
