package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"kory/internal/tools"
)

// Destructive command patterns the shell tool refuses to spawn. Prefix
// matches run against the trimmed command; regexes catch the piped and
// embedded variants.
var denyPrefixes = []string{
	"rm -rf /",
	"rm -fr /",
	"mkfs",
	"sudo ",
	"su -",
	"shutdown",
	"reboot",
	"init 0",
	"init 6",
	"gcloud auth",
	"claude login",
	"codex auth",
	"openai login",
}

var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-[a-zA-Z]*r[a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*r)\s+/(\s|$)`),
	regexp.MustCompile(`dd\s+.*of=/dev/`),
	regexp.MustCompile(`:\(\)\s*\{.*:\|:.*\}`),
	regexp.MustCompile(`chmod\s+(-R\s+)?777\s+/`),
	regexp.MustCompile(`chown\s+-R\s+\S+\s+/(\s|$)`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`(curl|wget)\s[^|]*\|\s*(ba)?sh`),
	regexp.MustCompile(`eval\s+\$\(`),
	regexp.MustCompile(`/etc/shadow`),
	regexp.MustCompile(`systemctl\s+(stop|disable|mask)\s`),
	regexp.MustCompile(`(xdg-open|open)\s+https?://`),
}

// CheckCommand returns an error when command matches the deny-list.
func CheckCommand(command string) error {
	trimmed := strings.TrimSpace(command)
	for _, prefix := range denyPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return fmt.Errorf("command blocked by safety policy: %q", prefix)
		}
	}
	for _, pattern := range denyPatterns {
		if pattern.MatchString(trimmed) {
			return fmt.Errorf("command blocked by safety policy: matches %q", pattern.String())
		}
	}
	return nil
}

type shell struct{}

// NewShell creates the shell execution tool.
func NewShell() tools.Executor {
	return &shell{}
}

func (t *shell) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	command, ok := tools.StringArg(call, "command")
	if !ok {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'command'")}, nil
	}
	if err := CheckCommand(command); err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: err}, nil
	}

	tc := tools.FromContext(ctx)
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = tc.Workdir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	payload := map[string]any{
		"command":   command,
		"stdout":    stdoutBuf.String(),
		"stderr":    stderrBuf.String(),
		"exit_code": exitCode,
	}
	content, err := json.Marshal(payload)
	if err != nil {
		plain := strings.TrimSpace(stdoutBuf.String())
		if plain == "" {
			plain = strings.TrimSpace(stderrBuf.String())
		}
		return &tools.ToolResult{CallID: call.ID, Content: plain, Error: runErr}, nil
	}

	return &tools.ToolResult{
		CallID:  call.ID,
		Content: string(content),
		Error:   runErr,
		Metadata: map[string]any{
			"command":   command,
			"exit_code": exitCode,
			"success":   runErr == nil,
		},
	}, nil
}

func (t *shell) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "shell",
		Description: "Execute a shell command in the working directory",
		Parameters: tools.ParameterSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"command": {Type: "string", Description: "Shell command to run"},
			},
			Required: []string{"command"},
		},
	}
}

func (t *shell) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name: "shell", Version: "1.0.0", Category: "execution", Dangerous: true,
		Roles: []string{tools.RoleManager, tools.RoleWorker},
	}
}
