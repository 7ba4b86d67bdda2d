package builtin

import (
	"context"
	"fmt"

	"kory/internal/tools"
)

// askUser parks until the user answers through the pending-prompt table the
// tool context's AskUser callback is wired to.
type askUser struct {
	name        string
	description string
	roles       []string
}

// NewAskUser creates the ask_user tool for direct user questions.
func NewAskUser() tools.Executor {
	return &askUser{
		name:        "ask_user",
		description: "Ask the user a question and wait for their answer. Use sparingly",
		roles:       []string{tools.RoleManager},
	}
}

// NewAskManager creates the ask_manager tool workers use to escalate a
// question. The manager relays it to the user over the same prompt channel.
func NewAskManager() tools.Executor {
	return &askUser{
		name:        "ask_manager",
		description: "Escalate a question to the manager when the task is ambiguous or blocked",
		roles:       []string{tools.RoleWorker},
	}
}

func (t *askUser) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	question, ok := tools.StringArg(call, "question")
	if !ok || question == "" {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'question'")}, nil
	}

	var options []string
	if raw, ok := call.Arguments["options"].([]any); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				options = append(options, s)
			}
		}
	}
	allowOther := tools.BoolArg(call, "allow_other", true)

	tc := tools.FromContext(ctx)
	if tc.AskUser == nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("no user channel available")}, nil
	}

	answer, err := tc.AskUser(ctx, question, options, allowOther)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("awaiting answer: %w", err)}, nil
	}

	return &tools.ToolResult{
		CallID:   call.ID,
		Content:  answer,
		Metadata: map[string]any{"question": question},
	}, nil
}

func (t *askUser) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        t.name,
		Description: t.description,
		Parameters: tools.ParameterSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"question":    {Type: "string", Description: "The question to ask"},
				"options":     {Type: "array", Description: "Optional list of suggested answers"},
				"allow_other": {Type: "boolean", Description: "Whether a free-form answer is accepted (default true)"},
			},
			Required: []string{"question"},
		},
	}
}

func (t *askUser) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name: t.name, Version: "1.0.0", Category: "interaction",
		Roles: t.roles,
	}
}
