package manager

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kory/internal/config"
)

func TestNeedsClarification(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{"short typo fix", "fix typo", false},
		{"vague request", "make it better", true},
		{"short but not a fix", "do the thing now", true},
		{
			"long and specific",
			"Refactor internal/server/handler.go to use the new Router type from pkg/router and update the `NewServer()` constructor accordingly",
			false,
		},
		{
			"long but vague",
			"I would really appreciate it if you could take a look at the project and make everything nicer and cleaner overall please",
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, needsClarification(tt.message))
		})
	}
}

func TestSpecificityMarkers(t *testing.T) {
	assert.GreaterOrEqual(t, specificityMarkers("edit `main.go` in src/ with go build"), 3)
	assert.Equal(t, 0, specificityMarkers("please improve everything"))
}

func TestParseClarifyProceed(t *testing.T) {
	d := parseClarifyResponse(`{"action":"proceed"}`, 3)
	assert.Equal(t, "proceed", d.Action)
}

func TestParseClarifyWithPreamble(t *testing.T) {
	raw := "Sure, here is my decision:\n{\"action\":\"clarify\",\"questions\":[\"Which file should change, the handler or the router?\"],\"reason\":\"ambiguous\"}\nLet me know."
	d := parseClarifyResponse(raw, 3)
	require.Equal(t, "clarify", d.Action)
	assert.Len(t, d.Questions, 1)
}

func TestParseClarifyRepairsSloppyJSON(t *testing.T) {
	// Trailing comma and single quotes need repair.
	raw := `{'action': 'clarify', 'questions': ['Which database should back this, postgres or sqlite?'],}`
	d := parseClarifyResponse(raw, 3)
	assert.Equal(t, "clarify", d.Action)
}

func TestParseClarifyGarbageDegradesToProceed(t *testing.T) {
	assert.Equal(t, "proceed", parseClarifyResponse("total nonsense", 3).Action)
	assert.Equal(t, "proceed", parseClarifyResponse("", 3).Action)
	assert.Equal(t, "proceed", parseClarifyResponse(`{"action":"explode"}`, 3).Action)
}

func TestParseClarifyCapsQuestions(t *testing.T) {
	raw := `{"action":"clarify","questions":["What scope, module or function?","Which language style, terse or verbose?","What naming, old or new?","Which directory, cmd or internal?","What else, this or that?"]}`
	d := parseClarifyResponse(raw, 3)
	require.Equal(t, "clarify", d.Action)
	assert.Len(t, d.Questions, 3)
}

func TestParseClarifyDropsYesNoQuestions(t *testing.T) {
	raw := `{"action":"clarify","questions":["Is the build green?","Should the config move to yaml or stay in json?"]}`
	d := parseClarifyResponse(raw, 4)
	require.Equal(t, "clarify", d.Action)
	require.Len(t, d.Questions, 1)
	assert.Contains(t, d.Questions[0], "yaml or stay")
}

func TestParseClarifyAllQuestionsDroppedMeansProceed(t *testing.T) {
	raw := `{"action":"clarify","questions":["Is it broken?","Can you confirm?"]}`
	assert.Equal(t, "proceed", parseClarifyResponse(raw, 4).Action)
}

func TestIsDisallowedYesNo(t *testing.T) {
	assert.True(t, isDisallowedYesNo("Is the server running?"))
	assert.True(t, isDisallowedYesNo("Can this wait?"))
	assert.False(t, isDisallowedYesNo("Is this for production or development?"))
	assert.False(t, isDisallowedYesNo("Should I use tabs or spaces?"))
	assert.False(t, isDisallowedYesNo("Do you want the verbose output format?"))
	assert.False(t, isDisallowedYesNo("What color scheme do you prefer?"))
}

func TestClassifyDomain(t *testing.T) {
	assert.Equal(t, DomainBackend, classifyDomain("extract the rate limiter into its own module"))
	assert.Equal(t, DomainFrontend, classifyDomain("restyle the button component css"))
	assert.Equal(t, DomainTest, classifyDomain("add unit test coverage"))
	assert.Equal(t, DomainReview, classifyDomain("audit the auth flow for security issues"))
	assert.Equal(t, DomainGeneral, classifyDomain("hello there"))
}

func TestResolveActiveRouting(t *testing.T) {
	cfg := config.Default()
	cfg.Assignments = map[string]string{"backend": "openai:gpt-4o"}

	// Preferred model always wins.
	r, err := resolveActiveRouting(cfg, "deepseek:deepseek-chat", DomainBackend)
	require.NoError(t, err)
	assert.Equal(t, routing{Provider: "deepseek", Model: "deepseek-chat"}, r)

	// Assignment beats the domain default.
	r, err = resolveActiveRouting(cfg, "", DomainBackend)
	require.NoError(t, err)
	assert.Equal(t, routing{Provider: "openai", Model: "gpt-4o"}, r)

	// Domain default as last resort.
	r, err = resolveActiveRouting(cfg, "", DomainTest)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", r.Provider)
	assert.Equal(t, "claude-haiku-4-5", r.Model)

	// Malformed preferences fall through.
	r, err = resolveActiveRouting(cfg, "not-a-pair", DomainBackend)
	require.NoError(t, err)
	assert.Equal(t, "openai", r.Provider)

	_, err = resolveActiveRouting(cfg, "", "unknown-domain")
	assert.Error(t, err)
}

func TestEnrichWithClarifications(t *testing.T) {
	enriched := enrichWithClarifications("make it better",
		[][2]string{{"What part?", "the parser"}},
		[]string{"Keep the public API stable"})
	assert.True(t, strings.HasPrefix(enriched, "make it better"))
	assert.Contains(t, enriched, "Clarifications:")
	assert.Contains(t, enriched, "Q: What part?")
	assert.Contains(t, enriched, "A: the parser")
	assert.Contains(t, enriched, "Assumption: Keep the public API stable")

	assert.Equal(t, "unchanged", enrichWithClarifications("unchanged", nil, nil))
}
