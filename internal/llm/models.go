package llm

// Catalog is the built-in model table. Context windows are filled in only
// for (provider, model) pairs whose reported usage is reliable; consumers
// treat a zero window as context-unknown.
var Catalog = []ModelInfo{
	{ID: "claude-opus-4-1", Provider: "anthropic", ContextWindow: 200000},
	{ID: "claude-sonnet-4-5", Provider: "anthropic", ContextWindow: 200000},
	{ID: "claude-haiku-4-5", Provider: "anthropic", ContextWindow: 200000},
	{ID: "claude-3-5-sonnet-20241022", Provider: "anthropic", ContextWindow: 200000, IsLegacy: true},
	{ID: "claude-3-5-haiku-20241022", Provider: "anthropic", ContextWindow: 200000, IsLegacy: true},

	{ID: "gpt-4o", Provider: "openai", ContextWindow: 128000},
	{ID: "gpt-4o-mini", Provider: "openai", ContextWindow: 128000},
	{ID: "gpt-4.1", Provider: "openai", ContextWindow: 1000000},
	{ID: "gpt-4.1-mini", Provider: "openai", ContextWindow: 1000000},
	{ID: "o3-mini", Provider: "openai"},
	{ID: "gpt-4-turbo", Provider: "openai", ContextWindow: 128000, IsLegacy: true},

	{ID: "deepseek-chat", Provider: "deepseek", ContextWindow: 64000},
	{ID: "deepseek-reasoner", Provider: "deepseek", ContextWindow: 64000},
}

// DomainDefaultModels maps a task domain to its default model when neither a
// preferred model nor a configured assignment applies.
var DomainDefaultModels = map[string]string{
	"frontend": "claude-sonnet-4-5",
	"backend":  "claude-sonnet-4-5",
	"general":  "claude-sonnet-4-5",
	"review":   "claude-opus-4-1",
	"test":     "claude-haiku-4-5",
	"critic":   "claude-opus-4-1",
}

// LookupModel returns catalog info for a model id.
func LookupModel(id string) (ModelInfo, bool) {
	for _, m := range Catalog {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// ContextWindowFor reports the context window for a model if it is
// whitelisted, with known=false otherwise.
func ContextWindowFor(id string) (window int, known bool) {
	info, ok := LookupModel(id)
	if !ok || info.ContextWindow == 0 {
		return 0, false
	}
	return info.ContextWindow, true
}
