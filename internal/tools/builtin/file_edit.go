package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"kory/internal/tools"
)

type fileEdit struct{}

// NewFileEdit creates the edit_file tool, an exact string replacement.
func NewFileEdit() tools.Executor {
	return &fileEdit{}
}

func (t *fileEdit) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	path, ok := tools.StringArg(call, "path")
	if !ok {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'path'")}, nil
	}
	oldString, ok := tools.StringArg(call, "old_string")
	if !ok || oldString == "" {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'old_string'")}, nil
	}
	newString, ok := tools.StringArg(call, "new_string")
	if !ok {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'new_string'")}, nil
	}
	replaceAll := tools.BoolArg(call, "replace_all", false)

	tc := tools.FromContext(ctx)
	resolved, err := tc.ResolvePath(path)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: err}, nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("read %s: %w", path, err)}, nil
	}
	before := string(data)

	count := strings.Count(before, oldString)
	if count == 0 {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("old_string not found in %s", path)}, nil
	}
	if count > 1 && !replaceAll {
		return &tools.ToolResult{CallID: call.ID,
			Error: fmt.Errorf("old_string appears %d times in %s; pass replace_all or provide more context", count, path)}, nil
	}

	var after string
	replaced := 1
	if replaceAll {
		after = strings.ReplaceAll(before, oldString, newString)
		replaced = count
	} else {
		after = strings.Replace(before, oldString, newString, 1)
	}

	if err := os.WriteFile(resolved, []byte(after), 0o644); err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("write %s: %w", path, err)}, nil
	}

	recordWrite(tc, resolved, before, after, "edit")

	return &tools.ToolResult{
		CallID:  call.ID,
		Content: fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, tc.Rel(resolved)),
		Metadata: map[string]any{
			"path":         tc.Rel(resolved),
			"replacements": replaced,
		},
	}, nil
}

func (t *fileEdit) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "edit_file",
		Description: "Replace an exact string in a file. old_string must match uniquely unless replace_all is set",
		Parameters: tools.ParameterSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"path":        {Type: "string", Description: "File path, relative to the working directory"},
				"old_string":  {Type: "string", Description: "Exact text to replace"},
				"new_string":  {Type: "string", Description: "Replacement text"},
				"replace_all": {Type: "boolean", Description: "Replace every occurrence"},
			},
			Required: []string{"path", "old_string", "new_string"},
		},
	}
}

func (t *fileEdit) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name: "edit_file", Version: "1.0.0", Category: "file", Dangerous: true,
		Roles: []string{tools.RoleManager, tools.RoleWorker},
	}
}
