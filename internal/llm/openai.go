package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	korerrors "kory/internal/errors"
	"kory/internal/logging"
)

// OpenAIProvider streams any OpenAI-compatible chat completions endpoint.
// The provider name distinguishes openai proper from compatible backends
// configured with a baseUrl override (openrouter, deepseek, local servers).
type OpenAIProvider struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  logging.Logger
}

func NewOpenAIProvider(name string, creds Credentials) *OpenAIProvider {
	baseURL := creds.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		name:    name,
		apiKey:  creds.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Minute},
		logger:  logging.NewComponentLogger("llm-" + name),
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if p.apiKey == "" {
		return nil, korerrors.NewPermanent(fmt.Errorf("%s: no api key configured", p.name), "")
	}

	messages := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		om := openaiMessage{Role: msg.Role, Content: msg.Content, ToolCallID: msg.ToolCallID}
		for _, call := range msg.ToolCalls {
			oc := openaiToolCall{ID: call.ID, Type: "function"}
			oc.Function.Name = call.Name
			oc.Function.Arguments = call.Arguments
			om.ToolCalls = append(om.ToolCalls, oc)
		}
		messages = append(messages, om)
	}

	body := map[string]any{
		"model":          req.Model,
		"messages":       messages,
		"stream":         true,
		"stream_options": map[string]any{"include_usage": true},
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, def := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        def.Name,
					"description": def.Description,
					"parameters":  def.Parameters,
				},
			})
		}
		body["tools"] = tools
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, korerrors.NewTransient(fmt.Errorf("%s request: %w", p.name, err), "")
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, korerrors.NewHTTPStatusError(resp.StatusCode, resp.Status, strings.TrimSpace(string(data)))
	}

	events := make(chan StreamEvent, 32)
	go p.consume(resp.Body, events)
	return events, nil
}

func (p *OpenAIProvider) consume(body io.ReadCloser, events chan<- StreamEvent) {
	defer close(events)
	defer func() { _ = body.Close() }()

	// Tool call index -> id. Chat completions identify streamed tool calls by
	// index; only the first fragment carries the id and name.
	toolIDs := make(map[int]string)
	openTools := make(map[int]bool)
	finishReason := ""

	closeOpenTools := func() {
		for idx := range openTools {
			events <- StreamEvent{Type: EventToolUseStop, ToolCallID: toolIDs[idx]}
			delete(openTools, idx)
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content   string `json:"content"`
					ToolCalls []struct {
						Index    int    `json:"index"`
						ID       string `json:"id"`
						Function struct {
							Name      string `json:"name"`
							Arguments string `json:"arguments"`
						} `json:"function"`
					} `json:"tool_calls"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
			Usage *struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			p.logger.Warn("skip malformed stream chunk: %v", err)
			continue
		}

		if chunk.Usage != nil {
			events <- StreamEvent{Type: EventUsageUpdate,
				TokensIn:  chunk.Usage.PromptTokens,
				TokensOut: chunk.Usage.CompletionTokens}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			events <- StreamEvent{Type: EventContentDelta, Content: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			if tc.ID != "" {
				toolIDs[tc.Index] = tc.ID
				openTools[tc.Index] = true
				events <- StreamEvent{Type: EventToolUseStart,
					ToolCallID: tc.ID, ToolName: tc.Function.Name}
			}
			if tc.Function.Arguments != "" {
				events <- StreamEvent{Type: EventToolUseDelta,
					ToolCallID: toolIDs[tc.Index], Content: tc.Function.Arguments}
			}
		}
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
			closeOpenTools()
		}
	}

	if err := scanner.Err(); err != nil {
		events <- StreamEvent{Type: EventError,
			Err: korerrors.NewTransient(fmt.Errorf("read stream: %w", err), "")}
		return
	}
	closeOpenTools()

	stopReason := finishReason
	if stopReason == "tool_calls" {
		stopReason = "tool_use"
	}
	events <- StreamEvent{Type: EventComplete, StopReason: stopReason}
}
