package manager

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// clarifyDecision is the parsed output of the clarification model call.
type clarifyDecision struct {
	Action      string   `json:"action"`
	Questions   []string `json:"questions,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	Assumptions []string `json:"assumptions,omitempty"`
}

const clarifySchemaJSON = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"enum": ["proceed", "clarify"]},
    "questions": {"type": "array", "items": {"type": "string"}},
    "reason": {"type": "string"},
    "assumptions": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	clarifySchemaOnce sync.Once
	clarifySchema     *jsonschema.Schema
)

func compiledClarifySchema() *jsonschema.Schema {
	clarifySchemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(clarifySchemaJSON), &doc); err != nil {
			panic(fmt.Sprintf("clarify schema: %v", err))
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("clarify.json", doc); err != nil {
			panic(fmt.Sprintf("clarify schema: %v", err))
		}
		s, err := c.Compile("clarify.json")
		if err != nil {
			panic(fmt.Sprintf("clarify schema: %v", err))
		}
		clarifySchema = s
	})
	return clarifySchema
}

var (
	fileExtRe   = regexp.MustCompile(`\b\w+\.(go|md|ts|tsx|js|jsx|py|rs|java|rb|css|html|json|yaml|yml|sql|sh|toml|txt)\b`)
	symbolRe    = regexp.MustCompile(`\b([A-Z][a-z0-9]+[A-Z]\w*|[a-z]+_[a-z_]+|\w+\(\))`)
	listItemRe  = regexp.MustCompile(`(?m)^\s*([-*]|\d+[.)])\s`)
	pathPrefix  = regexp.MustCompile(`(\./|src/|internal/|cmd/|pkg/|lib/|test/)`)
	runtimeName = regexp.MustCompile(`\b(go|npm|node|docker|python|cargo|make|git|pytest|pnpm|yarn|gradle|maven)\b`)
)

// needsClarification applies the under-specification heuristic. Specific,
// detailed messages and trivially simple fixes skip the clarification call.
func needsClarification(message string) bool {
	trimmed := strings.TrimSpace(message)
	lower := strings.ToLower(trimmed)

	if len(trimmed) < 20 && (strings.Contains(lower, "fix") || strings.Contains(lower, "typo")) {
		return false
	}
	if len(trimmed) > 80 && specificityMarkers(trimmed) >= 2 {
		return false
	}
	return true
}

// specificityMarkers counts distinct marker categories present in a message.
func specificityMarkers(message string) int {
	count := 0
	if strings.Contains(message, "`") {
		count++
	}
	if fileExtRe.MatchString(message) {
		count++
	}
	if pathPrefix.MatchString(message) {
		count++
	}
	if runtimeName.MatchString(strings.ToLower(message)) {
		count++
	}
	if symbolRe.MatchString(message) {
		count++
	}
	if listItemRe.MatchString(message) {
		count++
	}
	return count
}

// parseClarifyResponse extracts and validates the clarification JSON. Any
// failure degrades to proceed; invalid questions are dropped and the list is
// capped at maxQuestions.
func parseClarifyResponse(raw string, maxQuestions int) clarifyDecision {
	proceed := clarifyDecision{Action: "proceed"}

	jsonText := extractJSON(raw)
	if jsonText == "" {
		return proceed
	}

	var doc any
	if err := json.Unmarshal([]byte(jsonText), &doc); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(jsonText)
		if repairErr != nil {
			return proceed
		}
		if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
			return proceed
		}
		jsonText = repaired
	}
	if err := compiledClarifySchema().Validate(doc); err != nil {
		return proceed
	}

	var decision clarifyDecision
	if err := json.Unmarshal([]byte(jsonText), &decision); err != nil {
		return proceed
	}
	if decision.Action != "clarify" {
		return proceed
	}

	var kept []string
	for _, q := range decision.Questions {
		q = strings.TrimSpace(q)
		if q == "" || isDisallowedYesNo(q) {
			continue
		}
		kept = append(kept, q)
		if len(kept) == maxQuestions {
			break
		}
	}
	if len(kept) == 0 {
		return proceed
	}
	decision.Questions = kept
	return decision
}

// extractJSON strips any model preamble around the first balanced object.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

var yesNoOpeners = []string{
	"is ", "are ", "do ", "does ", "did ", "can ", "could ", "should ",
	"will ", "would ", "has ", "have ", "was ", "were ", "shall ",
}

// Openers that, despite their yes/no surface form, pick between major
// branches of work and are worth asking.
var majorBranchOpeners = []string{
	"should i use",
	"should we use",
	"should this use",
	"do you want",
	"do you prefer",
	"would you like",
}

// isDisallowedYesNo rejects questions that can be answered with a bare yes
// or no. A question offering an "or" branch always passes.
func isDisallowedYesNo(question string) bool {
	lower := strings.ToLower(strings.TrimSpace(question))
	if strings.Contains(lower, " or ") {
		return false
	}
	for _, opener := range majorBranchOpeners {
		if strings.HasPrefix(lower, opener) {
			return false
		}
	}
	for _, opener := range yesNoOpeners {
		if strings.HasPrefix(lower, opener) {
			return true
		}
	}
	return false
}
