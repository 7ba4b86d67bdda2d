package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	korerrors "kory/internal/errors"
	"kory/internal/tools"
)

type webSearch struct {
	client *http.Client
	apiKey string
}

// NewWebSearch creates the web_search tool backed by the Tavily API.
func NewWebSearch(apiKey string) tools.Executor {
	return newWebSearch(apiKey, nil)
}

func newWebSearch(apiKey string, client *http.Client) *webSearch {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &webSearch{client: client, apiKey: apiKey}
}

func (t *webSearch) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	if t.apiKey == "" {
		return &tools.ToolResult{
			CallID: call.ID,
			Content: "Web search not configured. Set TAVILY_API_KEY or add a tavily key " +
				"to kory.yaml to enable it.",
		}, nil
	}

	query, ok := tools.StringArg(call, "query")
	if !ok || query == "" {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'query'")}, nil
	}

	maxResults := tools.IntArg(call, "max_results", 5)
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > 10 {
		maxResults = 10
	}

	reqBody := map[string]any{
		"api_key":        t.apiKey,
		"query":          query,
		"max_results":    maxResults,
		"search_depth":   "basic",
		"include_answer": true,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: err}, nil
	}

	retryCfg := korerrors.DefaultRetryConfig()
	retryCfg.MaxAttempts = 2
	retryCfg.BaseDelay = 500 * time.Millisecond
	body, err := korerrors.Retry(ctx, retryCfg, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.tavily.com/search", bytes.NewReader(jsonData))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("search request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read search response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, korerrors.NewHTTPStatusError(resp.StatusCode, resp.Status, strings.TrimSpace(string(body)))
		}
		return body, nil
	}, nil)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: err}, nil
	}

	var searchResp struct {
		Query   string `json:"query"`
		Answer  string `json:"answer"`
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("parse search response: %w", err)}, nil
	}

	var output strings.Builder
	output.WriteString(fmt.Sprintf("Search: %s\n\n", searchResp.Query))
	if searchResp.Answer != "" {
		output.WriteString(fmt.Sprintf("Summary: %s\n\n", searchResp.Answer))
	}
	for i, result := range searchResp.Results {
		output.WriteString(fmt.Sprintf("%d. %s\n   URL: %s\n   %s\n\n", i+1, result.Title, result.URL, result.Content))
	}

	return &tools.ToolResult{
		CallID:  call.ID,
		Content: output.String(),
		Metadata: map[string]any{
			"query":         searchResp.Query,
			"results_count": len(searchResp.Results),
		},
	}, nil
}

func (t *webSearch) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web for current information. Returns result summaries with URLs",
		Parameters: tools.ParameterSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"query":       {Type: "string", Description: "The search query to execute"},
				"max_results": {Type: "integer", Description: "Maximum number of results (1-10, default 5)"},
			},
			Required: []string{"query"},
		},
	}
}

func (t *webSearch) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name: "web_search", Version: "1.0.0", Category: "web", Tags: []string{"search", "web"},
		Roles: []string{tools.RoleManager, tools.RoleWorker},
	}
}
