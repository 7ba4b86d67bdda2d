package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"kory/internal/tools"
)

type fileDelete struct{}

// NewFileDelete creates the delete_file tool.
func NewFileDelete() tools.Executor {
	return &fileDelete{}
}

func (t *fileDelete) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	path, ok := tools.StringArg(call, "path")
	if !ok {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'path'")}, nil
	}

	tc := tools.FromContext(ctx)
	resolved, err := tc.ResolvePath(path)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: err}, nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("delete %s: %w", path, err)}, nil
	}
	if err := os.Remove(resolved); err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("delete %s: %w", path, err)}, nil
	}

	recordWrite(tc, resolved, string(data), "", "delete")

	return &tools.ToolResult{
		CallID:  call.ID,
		Content: fmt.Sprintf("Deleted %s", tc.Rel(resolved)),
	}, nil
}

func (t *fileDelete) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "delete_file",
		Description: "Delete a file",
		Parameters: tools.ParameterSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"path": {Type: "string", Description: "File path, relative to the working directory"},
			},
			Required: []string{"path"},
		},
	}
}

func (t *fileDelete) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name: "delete_file", Version: "1.0.0", Category: "file", Dangerous: true,
		Roles: []string{tools.RoleManager, tools.RoleWorker},
	}
}

type fileMove struct{}

// NewFileMove creates the move_file tool.
func NewFileMove() tools.Executor {
	return &fileMove{}
}

func (t *fileMove) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	source, ok := tools.StringArg(call, "source")
	if !ok {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'source'")}, nil
	}
	destination, ok := tools.StringArg(call, "destination")
	if !ok {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'destination'")}, nil
	}

	tc := tools.FromContext(ctx)
	src, err := tc.ResolvePath(source)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: err}, nil
	}
	dst, err := tc.ResolvePath(destination)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: err}, nil
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("move %s: %w", source, err)}, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("create parent directory: %w", err)}, nil
	}
	if err := os.Rename(src, dst); err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("move %s to %s: %w", source, destination, err)}, nil
	}

	// A move is a delete at the source and a create at the destination.
	content := string(data)
	recordWrite(tc, src, content, "", "delete")
	recordWrite(tc, dst, "", content, "create")

	return &tools.ToolResult{
		CallID:  call.ID,
		Content: fmt.Sprintf("Moved %s to %s", tc.Rel(src), tc.Rel(dst)),
	}, nil
}

func (t *fileMove) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "move_file",
		Description: "Move or rename a file",
		Parameters: tools.ParameterSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"source":      {Type: "string", Description: "Current file path"},
				"destination": {Type: "string", Description: "New file path"},
			},
			Required: []string{"source", "destination"},
		},
	}
}

func (t *fileMove) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name: "move_file", Version: "1.0.0", Category: "file", Dangerous: true,
		Roles: []string{tools.RoleManager, tools.RoleWorker},
	}
}
