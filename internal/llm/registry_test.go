package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kory/internal/config"
	korerrors "kory/internal/errors"
)

type fakeProvider struct {
	name   string
	calls  int
	script func(req Request) ([]StreamEvent, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	f.calls++
	events, err := f.script(req)
	if err != nil {
		return nil, err
	}
	out := make(chan StreamEvent, len(events))
	for _, ev := range events {
		out <- ev
	}
	close(out)
	return out, nil
}

func healthyScript(content string) func(req Request) ([]StreamEvent, error) {
	return func(req Request) ([]StreamEvent, error) {
		return []StreamEvent{
			{Type: EventContentDelta, Content: content},
			{Type: EventUsageUpdate, TokensIn: 10, TokensOut: 5},
			{Type: EventComplete, StopReason: "end_turn"},
		}, nil
	}
}

func drain(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var all []StreamEvent
	for ev := range events {
		all = append(all, ev)
	}
	return all
}

func newTestRegistry() *Registry {
	return NewRegistry(&config.Config{
		Providers: map[string]config.ProviderConfig{},
		Fallbacks: map[string][]string{},
	})
}

func TestExecuteWithRetryHappyPath(t *testing.T) {
	r := newTestRegistry()
	p := &fakeProvider{name: "anthropic", script: healthyScript("hello")}
	r.RegisterProvider(p)

	events, err := r.ExecuteWithRetry(context.Background(), Request{
		Model:    "claude-sonnet-4-5",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, "")
	require.NoError(t, err)

	all := drain(t, events)
	require.Len(t, all, 3)
	assert.Equal(t, EventContentDelta, all[0].Type)
	assert.Equal(t, EventComplete, all[2].Type)
	assert.Equal(t, 1, p.calls)
}

func TestFallbackChainAdvancesOnTransientFailure(t *testing.T) {
	r := newTestRegistry()
	primary := &fakeProvider{name: "anthropic", script: func(req Request) ([]StreamEvent, error) {
		return nil, korerrors.NewHTTPStatusError(503, "503 Service Unavailable", "overloaded")
	}}
	backup := &fakeProvider{name: "openai", script: healthyScript("from backup")}
	r.RegisterProvider(primary)
	r.RegisterProvider(backup)
	r.fallbacks["claude-sonnet-4-5"] = []string{"gpt-4o"}

	events, err := r.ExecuteWithRetry(context.Background(), Request{
		Model:    "claude-sonnet-4-5",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, "")
	require.NoError(t, err)

	all := drain(t, events)
	require.NotEmpty(t, all)
	last := all[len(all)-1]
	assert.Equal(t, EventComplete, last.Type)
	assert.Equal(t, "from backup", all[0].Content)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, backup.calls)
}

func TestFallbackChainStopsOnPermanentFailure(t *testing.T) {
	r := newTestRegistry()
	primary := &fakeProvider{name: "anthropic", script: func(req Request) ([]StreamEvent, error) {
		return nil, korerrors.NewPermanent(fmt.Errorf("invalid api key"), "")
	}}
	backup := &fakeProvider{name: "openai", script: healthyScript("never reached")}
	r.RegisterProvider(primary)
	r.RegisterProvider(backup)
	r.fallbacks["claude-sonnet-4-5"] = []string{"gpt-4o"}

	events, err := r.ExecuteWithRetry(context.Background(), Request{
		Model: "claude-sonnet-4-5",
	}, "")
	require.NoError(t, err)

	all := drain(t, events)
	require.Len(t, all, 1)
	assert.Equal(t, EventError, all[0].Type)
	assert.Equal(t, 0, backup.calls)
}

func TestChainExhaustedEmitsError(t *testing.T) {
	r := newTestRegistry()
	r.RegisterProvider(&fakeProvider{name: "anthropic", script: func(req Request) ([]StreamEvent, error) {
		return nil, korerrors.NewTransient(fmt.Errorf("rate limited"), "")
	}})

	events, err := r.ExecuteWithRetry(context.Background(), Request{Model: "claude-sonnet-4-5"}, "")
	require.NoError(t, err)

	all := drain(t, events)
	require.Len(t, all, 1)
	assert.Equal(t, EventError, all[0].Type)
	assert.Error(t, all[0].Err)
}

func TestNoProviderForModel(t *testing.T) {
	r := newTestRegistry()
	_, err := r.ExecuteWithRetry(context.Background(), Request{Model: "claude-sonnet-4-5"}, "")
	assert.Error(t, err)
}

func TestChainSkipsLegacyModels(t *testing.T) {
	r := newTestRegistry()
	r.RegisterProvider(&fakeProvider{name: "anthropic", script: healthyScript("x")})
	r.fallbacks["claude-sonnet-4-5"] = []string{"claude-3-5-sonnet-20241022", "claude-haiku-4-5"}

	chain := r.buildChain("claude-sonnet-4-5", "")
	require.Len(t, chain, 2)
	assert.Equal(t, "claude-sonnet-4-5", chain[0].model)
	assert.Equal(t, "claude-haiku-4-5", chain[1].model)
}

func TestChainDedupesCycles(t *testing.T) {
	r := newTestRegistry()
	r.RegisterProvider(&fakeProvider{name: "anthropic", script: healthyScript("x")})
	r.fallbacks["claude-sonnet-4-5"] = []string{"claude-haiku-4-5"}
	r.fallbacks["claude-haiku-4-5"] = []string{"claude-sonnet-4-5"}

	chain := r.buildChain("claude-sonnet-4-5", "")
	assert.Len(t, chain, 2)
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	r := newTestRegistry()
	r.RegisterProvider(&fakeProvider{name: "anthropic", script: func(req Request) ([]StreamEvent, error) {
		return nil, korerrors.NewHTTPStatusError(503, "503 Service Unavailable", "")
	}})

	for i := 0; i < 6; i++ {
		events, err := r.ExecuteWithRetry(context.Background(), Request{Model: "claude-sonnet-4-5"}, "")
		require.NoError(t, err)
		drain(t, events)
	}

	statuses := r.GetStatus()
	require.Len(t, statuses, 1)
	assert.Equal(t, "open", statuses[0].Circuit)
}

func TestResolveProviderPrefersExplicitName(t *testing.T) {
	r := newTestRegistry()
	anthropic := &fakeProvider{name: "anthropic", script: healthyScript("x")}
	openai := &fakeProvider{name: "openai", script: healthyScript("x")}
	r.RegisterProvider(anthropic)
	r.RegisterProvider(openai)

	assert.Equal(t, openai, r.ResolveProvider("claude-sonnet-4-5", "openai"))
	assert.Equal(t, anthropic, r.ResolveProvider("claude-sonnet-4-5", ""))
	assert.Equal(t, openai, r.ResolveProvider("gpt-4o", ""))
	assert.Nil(t, r.ResolveProvider("unknown-model", ""))
}

func TestContextWindowWhitelist(t *testing.T) {
	window, known := ContextWindowFor("claude-sonnet-4-5")
	assert.True(t, known)
	assert.Equal(t, 200000, window)

	_, known = ContextWindowFor("o3-mini")
	assert.False(t, known)

	_, known = ContextWindowFor("some-random-model")
	assert.False(t, known)
}

func TestGetAvailableIncludesUnverified(t *testing.T) {
	r := newTestRegistry()
	r.RegisterProvider(&fakeProvider{name: "openai", script: healthyScript("x")})
	r.RegisterProvider(&fakeProvider{name: "anthropic", script: healthyScript("x")})

	assert.Equal(t, []string{"anthropic", "openai"}, r.GetAvailable())
}
