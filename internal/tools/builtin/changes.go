// Package builtin provides the built-in tools: shell, file operations,
// patching, search, web access and user interaction.
package builtin

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"kory/internal/bus"
	"kory/internal/tools"
)

// lineDiff counts added and deleted lines between two file contents using a
// line-mode diff.
func lineDiff(before, after string) (added, deleted int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			deleted += n
		}
	}
	return added, deleted
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

// recordWrite reports one completed write-class operation: exactly one
// ledger entry plus the file_delta/file_complete pair clients use for live
// previews.
func recordWrite(tc *tools.ToolContext, path, before, after, operation string) {
	added, deleted := lineDiff(before, after)
	if operation == "delete" {
		added = 0
		deleted = countLines(before)
	}

	rel := tc.Rel(path)
	if tc.EmitFileEdit != nil && operation != "delete" {
		tc.EmitFileEdit(rel, after, len(after), operation)
	}
	if tc.EmitFileComplete != nil {
		tc.EmitFileComplete(rel, countLines(after), operation)
	}
	if tc.RecordChange != nil {
		tc.RecordChange(bus.ChangeSummary{
			Path:         rel,
			LinesAdded:   added,
			LinesDeleted: deleted,
			Operation:    operation,
		})
	}
}
