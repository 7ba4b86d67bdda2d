package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"kory/internal/config"
	korerrors "kory/internal/errors"
	"kory/internal/logging"
)

const maxChainDepth = 25

// ProviderStatus is one row of GetStatus.
type ProviderStatus struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	Verified   bool   `json:"verified"`
	Circuit    string `json:"circuit"`
}

// Registry resolves model ids to providers and drives the fallback chain.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	verified  map[string]bool
	fallbacks map[string][]string
	breakers  *korerrors.CircuitBreakerManager
	logger    logging.Logger
}

// NewRegistry builds providers from configured credentials. Anthropic gets
// the native Messages client; every other provider name gets the
// OpenAI-compatible client with its baseUrl override.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		providers: make(map[string]Provider),
		verified:  make(map[string]bool),
		fallbacks: make(map[string][]string),
		breakers:  korerrors.NewCircuitBreakerManager(korerrors.DefaultCircuitBreakerConfig()),
		logger:    logging.NewComponentLogger("llm-registry"),
	}
	if cfg != nil {
		for model, chain := range cfg.Fallbacks {
			r.fallbacks[model] = append([]string(nil), chain...)
		}
		for name, pc := range cfg.Providers {
			if pc.Disabled {
				continue
			}
			r.providers[name] = buildProvider(name, Credentials{
				APIKey:    pc.APIKey,
				AuthToken: pc.AuthToken,
				BaseURL:   pc.BaseURL,
			})
		}
	}
	return r
}

func buildProvider(name string, creds Credentials) Provider {
	if name == "anthropic" {
		return NewAnthropicProvider(creds)
	}
	return NewOpenAIProvider(name, creds)
}

// RegisterProvider installs a pre-built provider, replacing any existing one
// with the same name. Used by tests and embedders.
func (r *Registry) RegisterProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// SetCredentials installs or replaces the credentials for a provider.
func (r *Registry) SetCredentials(name string, creds Credentials) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = buildProvider(name, creds)
	delete(r.verified, name)
}

// RemoveApiKey drops a provider from the registry.
func (r *Registry) RemoveApiKey(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, name)
	delete(r.verified, name)
}

// ResolveProvider returns the provider for a model id, preferring an
// explicit provider name when given. Returns nil when nothing is configured.
func (r *Registry) ResolveProvider(modelID, preferred string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if preferred != "" {
		return r.providers[preferred]
	}
	if info, ok := LookupModel(modelID); ok {
		if p, ok := r.providers[info.Provider]; ok {
			return p
		}
	}
	// Model id conventions cover uncataloged ids well enough for routing.
	switch {
	case strings.HasPrefix(modelID, "claude"):
		return r.providers["anthropic"]
	case strings.HasPrefix(modelID, "gpt"), strings.HasPrefix(modelID, "o1"), strings.HasPrefix(modelID, "o3"):
		return r.providers["openai"]
	case strings.HasPrefix(modelID, "deepseek"):
		return r.providers["deepseek"]
	}
	return nil
}

// GetAvailable lists configured provider names, verified or not.
func (r *Registry) GetAvailable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetStatus reports per-provider configuration and circuit state.
func (r *Registry) GetStatus() []ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	circuits := r.breakers.States()
	statuses := make([]ProviderStatus, 0, len(r.providers))
	for name := range r.providers {
		circuit := korerrors.StateClosed.String()
		if state, ok := circuits[name]; ok {
			circuit = state.String()
		}
		statuses = append(statuses, ProviderStatus{
			Name:       name,
			Configured: true,
			Verified:   r.verified[name],
			Circuit:    circuit,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// VerifyConnection makes a one-token ping call against a provider and marks
// it verified on success.
func (r *Registry) VerifyConnection(ctx context.Context, name, modelID string) error {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("provider %q is not configured", name)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	events, err := p.Stream(ctx, Request{
		Model:     modelID,
		Messages:  []Message{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		return err
	}
	for ev := range events {
		if ev.Type == EventError {
			return ev.Err
		}
	}

	r.mu.Lock()
	r.verified[name] = true
	r.mu.Unlock()
	return nil
}

type hop struct {
	provider Provider
	model    string
}

// buildChain expands the fallback table depth-first from the starting model,
// deduping model ids, skipping legacy entries, bounded to maxChainDepth hops.
func (r *Registry) buildChain(modelID, preferred string) []hop {
	var chain []hop
	visited := make(map[string]bool)

	var walk func(model, pref string)
	walk = func(model, pref string) {
		if len(chain) >= maxChainDepth || visited[model] {
			return
		}
		visited[model] = true

		if info, ok := LookupModel(model); ok && info.IsLegacy {
			// Legacy models stay out of the chain but their fallbacks apply.
			for _, next := range r.fallbacks[model] {
				walk(next, "")
			}
			return
		}
		if p := r.ResolveProvider(model, pref); p != nil {
			chain = append(chain, hop{provider: p, model: model})
		}
		for _, next := range r.fallbacks[model] {
			walk(next, "")
		}
	}
	walk(modelID, preferred)
	return chain
}

// ExecuteWithRetry opens a streaming call, advancing through the fallback
// chain on transient failures. The returned channel carries the first hop
// that makes progress to completion; an error event is emitted only when the
// whole chain is exhausted.
func (r *Registry) ExecuteWithRetry(ctx context.Context, req Request, preferred string) (<-chan StreamEvent, error) {
	chain := r.buildChain(req.Model, preferred)
	if len(chain) == 0 {
		return nil, korerrors.NewPermanent(
			fmt.Errorf("no provider available for model %q", req.Model), "")
	}

	out := make(chan StreamEvent, 32)
	go func() {
		defer close(out)

		var lastErr error
		for _, h := range chain {
			if ctx.Err() != nil {
				return
			}
			breaker := r.breakers.Get(h.provider.Name())
			if err := breaker.Allow(); err != nil {
				lastErr = err
				continue
			}

			hopReq := req
			hopReq.Model = h.model
			events, err := h.provider.Stream(ctx, hopReq)
			if err != nil {
				breaker.Mark(err)
				lastErr = err
				if korerrors.IsTransient(err) || korerrors.IsDegraded(err) {
					r.logger.Warn("hop %s/%s failed, advancing chain: %v",
						h.provider.Name(), h.model, err)
					continue
				}
				out <- StreamEvent{Type: EventError, Err: err}
				return
			}

			done, err := r.forward(ctx, events, out)
			if done {
				breaker.Mark(nil)
				return
			}
			breaker.Mark(err)
			lastErr = err
			if err != nil && !korerrors.IsTransient(err) {
				out <- StreamEvent{Type: EventError, Err: err}
				return
			}
			r.logger.Warn("hop %s/%s failed mid-stream, advancing chain: %v",
				h.provider.Name(), h.model, err)
		}

		if lastErr == nil {
			lastErr = fmt.Errorf("fallback chain exhausted for model %q", req.Model)
		}
		out <- StreamEvent{Type: EventError, Err: lastErr}
	}()
	return out, nil
}

// forward relays one hop's events. It returns done=true once a complete
// event went out; an error event stops the hop and is reported to the caller
// instead of being forwarded.
func (r *Registry) forward(ctx context.Context, in <-chan StreamEvent, out chan<- StreamEvent) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return false, fmt.Errorf("stream closed without terminal event")
			}
			if ev.Type == EventError {
				return false, ev.Err
			}
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case out <- ev:
			}
			if ev.Type == EventComplete {
				return true, nil
			}
		}
	}
}
