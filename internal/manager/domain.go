package manager

import (
	"fmt"
	"strings"

	"kory/internal/config"
	"kory/internal/llm"
)

// Task domains used for worker routing and UI coloring.
const (
	DomainFrontend = "frontend"
	DomainBackend  = "backend"
	DomainGeneral  = "general"
	DomainReview   = "review"
	DomainTest     = "test"
	DomainCritic   = "critic"
)

var domainKeywords = map[string][]string{
	DomainFrontend: {"frontend", "ui", "css", "style", "component", "react", "vue", "html", "layout", "button", "page"},
	DomainBackend:  {"backend", "server", "api", "db", "database", "endpoint", "handler", "sql", "query", "service", "auth", "limiter", "module"},
	DomainGeneral:  {"general", "refactor", "docs", "readme", "rename", "cleanup", "document", "extract"},
	DomainReview:   {"review", "audit", "inspect", "security"},
	DomainTest:     {"test", "spec", "coverage", "unit"},
	DomainCritic:   {"critic", "critique"},
}

var domainColors = map[string]string{
	DomainFrontend: "#e06c75",
	DomainBackend:  "#61afef",
	DomainGeneral:  "#98c379",
	DomainReview:   "#c678dd",
	DomainTest:     "#e5c07b",
	DomainCritic:   "#d19a66",
}

// classifyDomain scores the message against the keyword table. Ties and no
// hits fall back to general.
func classifyDomain(message string) string {
	lower := strings.ToLower(message)
	best, bestScore := DomainGeneral, 0
	// Stable iteration so ties resolve the same way every run.
	for _, domain := range []string{DomainFrontend, DomainBackend, DomainReview, DomainTest, DomainCritic, DomainGeneral} {
		score := 0
		for _, kw := range domainKeywords[domain] {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = domain, score
		}
	}
	return best
}

func colorForDomain(domain string) string {
	if c, ok := domainColors[domain]; ok {
		return c
	}
	return domainColors[DomainGeneral]
}

// routing is a resolved (provider, model) pair.
type routing struct {
	Provider string
	Model    string
}

// resolveActiveRouting picks the provider and model for an agent. Order:
// explicit preferred model, configured assignment for the domain, then the
// built-in domain default.
func resolveActiveRouting(cfg *config.Config, preferredModel, domain string) (routing, error) {
	if r, ok := splitProviderModel(preferredModel); ok {
		return r, nil
	}
	if cfg != nil {
		if r, ok := splitProviderModel(cfg.Assignments[domain]); ok {
			return r, nil
		}
	}
	if modelID, ok := llm.DomainDefaultModels[domain]; ok {
		if info, found := llm.LookupModel(modelID); found {
			return routing{Provider: info.Provider, Model: info.ID}, nil
		}
	}
	return routing{}, fmt.Errorf("no provider available for domain %q", domain)
}

func splitProviderModel(s string) (routing, bool) {
	provider, model, ok := strings.Cut(s, ":")
	if !ok || provider == "" || model == "" {
		return routing{}, false
	}
	return routing{Provider: provider, Model: model}, true
}
