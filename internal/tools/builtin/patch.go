package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"kory/internal/tools"
)

type patchTool struct{}

// NewPatch creates the patch tool. Patches use the unidiff-style text format
// produced by diff-match-patch.
func NewPatch() tools.Executor {
	return &patchTool{}
}

func (t *patchTool) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	path, ok := tools.StringArg(call, "path")
	if !ok {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'path'")}, nil
	}
	patchText, ok := tools.StringArg(call, "patch")
	if !ok {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'patch'")}, nil
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

	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("parse patch: %w", err)}, nil
	}
	if len(patches) == 0 {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("patch is empty")}, nil
	}

	after, applied := dmp.PatchApply(patches, before)
	for i, ok := range applied {
		if !ok {
			return &tools.ToolResult{CallID: call.ID,
				Error: fmt.Errorf("hunk %d of %d did not apply to %s", i+1, len(applied), path)}, nil
		}
	}

	if err := os.WriteFile(resolved, []byte(after), 0o644); err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("write %s: %w", path, err)}, nil
	}

	recordWrite(tc, resolved, before, after, operation)

	return &tools.ToolResult{
		CallID:  call.ID,
		Content: fmt.Sprintf("Applied %d hunk(s) to %s", len(applied), tc.Rel(resolved)),
		Metadata: map[string]any{
			"path":  tc.Rel(resolved),
			"hunks": len(applied),
		},
	}, nil
}

// MakePatch renders a patch for the given before/after pair, for models that
// want to produce a diff instead of rewriting a file.
func MakePatch(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	return strings.TrimSpace(dmp.PatchToText(dmp.PatchMake(before, diffs)))
}

func (t *patchTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "patch",
		Description: "Apply a textual patch to a file (diff-match-patch format)",
		Parameters: tools.ParameterSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"path":  {Type: "string", Description: "File path, relative to the working directory"},
				"patch": {Type: "string", Description: "Patch text to apply"},
			},
			Required: []string{"path", "patch"},
		},
	}
}

func (t *patchTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name: "patch", Version: "1.0.0", Category: "file", Dangerous: true,
		Roles: []string{tools.RoleManager, tools.RoleWorker},
	}
}
