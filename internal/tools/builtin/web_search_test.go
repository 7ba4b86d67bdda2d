package builtin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kory/internal/tools"
)

// redirectTransport points every request at the test server.
type redirectTransport struct {
	target *url.URL
}

func (rt *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func searchClientFor(t *testing.T, handler http.HandlerFunc) *http.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return &http.Client{Transport: &redirectTransport{target: target}}
}

func searchCall(query string) tools.ToolCall {
	return tools.ToolCall{ID: "c1", Name: "web_search", Arguments: map[string]any{"query": query}}
}

func TestWebSearchWithoutKeyExplains(t *testing.T) {
	tool := newWebSearch("", nil)
	result, err := tool.Execute(context.Background(), searchCall("anything"))
	require.NoError(t, err)
	assert.False(t, result.IsError())
	assert.Contains(t, result.Content, "not configured")
}

func TestWebSearchReturnsResults(t *testing.T) {
	client := searchClientFor(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"query":"go testing","answer":"use the testing package",
			"results":[{"title":"testing","url":"https://pkg.go.dev/testing","content":"docs"}]}`))
	})
	tool := newWebSearch("key", client)

	result, err := tool.Execute(context.Background(), searchCall("go testing"))
	require.NoError(t, err)
	require.False(t, result.IsError(), "%v", result.Error)
	assert.Contains(t, result.Content, "use the testing package")
	assert.Contains(t, result.Content, "https://pkg.go.dev/testing")
	assert.Equal(t, 1, result.Metadata["results_count"])
}

func TestWebSearchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client := searchClientFor(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"query":"q","results":[]}`))
	})
	tool := newWebSearch("key", client)

	result, err := tool.Execute(context.Background(), searchCall("q"))
	require.NoError(t, err)
	assert.False(t, result.IsError(), "%v", result.Error)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebSearchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := searchClientFor(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusForbidden)
	})
	tool := newWebSearch("key", client)

	result, err := tool.Execute(context.Background(), searchCall("q"))
	require.NoError(t, err)
	assert.True(t, result.IsError())
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebSearchRequiresQuery(t *testing.T) {
	tool := newWebSearch("key", nil)
	result, err := tool.Execute(context.Background(),
		tools.ToolCall{ID: "c1", Name: "web_search", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, result.IsError())
}
