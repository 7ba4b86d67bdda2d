package manager

import (
	"fmt"
	"strings"

	"kory/internal/bus"
)

const managerSystemPrompt = `You are Kory, the manager agent of an engineering workbench.
You handle small, well-scoped tasks directly using the tools available to you.

Guidelines:
- Read before you write. Use read_file, grep, and glob to locate the exact code first.
- Make the smallest change that satisfies the request.
- Prefer edit_file for targeted edits; use write_file only for new files or full rewrites.
- When the task is done, summarize what changed in one or two sentences. Do not pad.
- If the request is impossible or the target does not exist, say so plainly.`

const workerSystemPrompt = `You are a focused worker agent executing one task inside a sandboxed working directory.
All paths are relative to the working directory; you cannot touch anything outside it.

Guidelines:
- Follow the plan you were given step by step. Use ask_manager if a step is ambiguous.
- Read the relevant files before modifying them.
- Keep edits minimal and consistent with the surrounding code style.
- Run verification commands (build, tests) with the shell tool when they exist.
- Finish with a short summary of what you changed and anything left undone.`

const clarifySystemPrompt = `You decide whether a user request needs clarification before work starts.
Respond with EXACTLY one JSON object and nothing else, in one of two shapes:

{"action":"proceed"}

{"action":"clarify","questions":["..."],"reason":"...","assumptions":["..."]}

Rules:
- At most %d questions.
- Each question must be open-ended or offer concrete alternatives ("X or Y?").
- Never ask a bare yes/no question.
- If the request is actionable as-is, return {"action":"proceed"}.`

const classifierSystemPrompt = `Classify the complexity of a coding request.
Reply with exactly one word: SIMPLE or COMPLEX.

SIMPLE: single-file fixes, typos, small additions, direct questions.
COMPLEX: multi-file refactors, new modules or features, architectural changes.`

const plannerSystemPrompt = `Write a concise, numbered, step-by-step plan for the task below.
Each step is one concrete action. No preamble, no code, at most 8 steps.`

const commitSystemPrompt = `Write a single conventional-commit message (feat:/fix:/refactor:/docs:/test:/chore:)
for the change summary below. One line, under 72 characters, no quotes, no trailing period.`

// buildWorkerTask seeds the worker conversation with workdir, task, and plan.
func buildWorkerTask(workdir, task, plan string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Working directory: %s\n\n", workdir)
	fmt.Fprintf(&b, "Task: %s\n", task)
	if plan != "" {
		fmt.Fprintf(&b, "\nPlan:\n%s\n", plan)
	}
	b.WriteString("\nExecute this plan. Work only inside the working directory.")
	return b.String()
}

// buildCommitContext renders the ledger for the commit-message call.
func buildCommitContext(task string, changes []bus.ChangeSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nFiles changed:\n", task)
	for _, c := range changes {
		fmt.Fprintf(&b, "- %s (%s, +%d/-%d)\n", c.Path, c.Operation, c.LinesAdded, c.LinesDeleted)
	}
	return b.String()
}

// enrichWithClarifications appends the Q/A block to the original message.
func enrichWithClarifications(message string, pairs [][2]string, assumptions []string) string {
	if len(pairs) == 0 && len(assumptions) == 0 {
		return message
	}
	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n\nClarifications:\n")
	for _, qa := range pairs {
		fmt.Fprintf(&b, "- Q: %s\n  A: %s\n", qa[0], qa[1])
	}
	for _, a := range assumptions {
		fmt.Fprintf(&b, "- Assumption: %s\n", a)
	}
	return b.String()
}
