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

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// AnthropicProvider streams the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey    string
	authToken string
	baseURL   string
	client    *http.Client
	logger    logging.Logger
}

// NewAnthropicProvider creates an Anthropic provider with the given
// credentials.
func NewAnthropicProvider(creds Credentials) *AnthropicProvider {
	baseURL := creds.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	return &AnthropicProvider{
		apiKey:    creds.APIKey,
		authToken: creds.AuthToken,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		client:    &http.Client{Timeout: 10 * time.Minute},
		logger:    logging.NewComponentLogger("llm-anthropic"),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"input_schema"`
}

// Stream opens a streaming call and translates Anthropic SSE frames into
// StreamEvents.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if p.apiKey == "" && p.authToken == "" {
		return nil, korerrors.NewPermanent(fmt.Errorf("anthropic: no credentials configured"), "")
	}

	body := map[string]any{
		"model":      req.Model,
		"max_tokens": req.MaxTokens,
		"messages":   buildAnthropicMessages(req.Messages),
		"stream":     true,
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		tools := make([]anthropicTool, 0, len(req.Tools))
		for _, def := range req.Tools {
			tools = append(tools, anthropicTool{
				Name:        def.Name,
				Description: def.Description,
				InputSchema: def.Parameters,
			})
		}
		body["tools"] = tools
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if p.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.authToken)
	} else {
		httpReq.Header.Set("x-api-key", p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, korerrors.NewTransient(fmt.Errorf("anthropic request: %w", err), "")
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

func (p *AnthropicProvider) consume(body io.ReadCloser, events chan<- StreamEvent) {
	defer close(events)
	defer func() { _ = body.Close() }()

	// Block index -> tool call id, for routing input_json_delta fragments.
	toolBlocks := make(map[int]string)
	stopReason := ""
	sentComplete := false

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

		var frame struct {
			Type  string `json:"type"`
			Index int    `json:"index"`
			Error *struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
			Message *struct {
				Usage struct {
					InputTokens  int `json:"input_tokens"`
					OutputTokens int `json:"output_tokens"`
				} `json:"usage"`
			} `json:"message"`
			ContentBlock *struct {
				Type string `json:"type"`
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"content_block"`
			Delta *struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				Thinking    string `json:"thinking"`
				PartialJSON string `json:"partial_json"`
				StopReason  string `json:"stop_reason"`
			} `json:"delta"`
			Usage *struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			p.logger.Warn("skip malformed stream frame: %v", err)
			continue
		}

		switch frame.Type {
		case "message_start":
			if frame.Message != nil {
				events <- StreamEvent{Type: EventUsageUpdate,
					TokensIn:  frame.Message.Usage.InputTokens,
					TokensOut: frame.Message.Usage.OutputTokens}
			}
		case "content_block_start":
			if frame.ContentBlock != nil && frame.ContentBlock.Type == "tool_use" {
				toolBlocks[frame.Index] = frame.ContentBlock.ID
				events <- StreamEvent{Type: EventToolUseStart,
					ToolCallID: frame.ContentBlock.ID, ToolName: frame.ContentBlock.Name}
			}
		case "content_block_delta":
			if frame.Delta == nil {
				continue
			}
			switch frame.Delta.Type {
			case "text_delta":
				events <- StreamEvent{Type: EventContentDelta, Content: frame.Delta.Text}
			case "thinking_delta":
				events <- StreamEvent{Type: EventThinkingDelta, Content: frame.Delta.Thinking}
			case "input_json_delta":
				if id, ok := toolBlocks[frame.Index]; ok {
					events <- StreamEvent{Type: EventToolUseDelta,
						ToolCallID: id, Content: frame.Delta.PartialJSON}
				}
			}
		case "content_block_stop":
			if id, ok := toolBlocks[frame.Index]; ok {
				events <- StreamEvent{Type: EventToolUseStop, ToolCallID: id}
				delete(toolBlocks, frame.Index)
			}
		case "message_delta":
			if frame.Delta != nil && frame.Delta.StopReason != "" {
				stopReason = frame.Delta.StopReason
			}
			if frame.Usage != nil {
				events <- StreamEvent{Type: EventUsageUpdate, TokensOut: frame.Usage.OutputTokens}
			}
		case "message_stop":
			events <- StreamEvent{Type: EventComplete, StopReason: stopReason}
			sentComplete = true
		case "error":
			msg := "stream error"
			if frame.Error != nil {
				msg = frame.Error.Message
			}
			events <- StreamEvent{Type: EventError,
				Err: korerrors.NewTransient(fmt.Errorf("anthropic stream: %s", msg), "")}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		events <- StreamEvent{Type: EventError,
			Err: korerrors.NewTransient(fmt.Errorf("read stream: %w", err), "")}
		return
	}
	if !sentComplete {
		events <- StreamEvent{Type: EventComplete, StopReason: stopReason}
	}
}

// buildAnthropicMessages converts the neutral message list into the
// Anthropic content-block format. Tool results become tool_result blocks on
// user messages; assistant tool calls become tool_use blocks.
func buildAnthropicMessages(messages []Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		switch {
		case msg.Role == "tool":
			out = append(out, anthropicMessage{
				Role: "user",
				Content: []map[string]any{{
					"type":        "tool_result",
					"tool_use_id": msg.ToolCallID,
					"content":     msg.Content,
				}},
			})
		case msg.Role == "assistant" && len(msg.ToolCalls) > 0:
			blocks := []map[string]any{}
			if msg.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": msg.Content})
			}
			for _, call := range msg.ToolCalls {
				var input any = map[string]any{}
				if call.Arguments != "" {
					_ = json.Unmarshal([]byte(call.Arguments), &input)
				}
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    call.ID,
					"name":  call.Name,
					"input": input,
				})
			}
			out = append(out, anthropicMessage{Role: "assistant", Content: blocks})
		default:
			out = append(out, anthropicMessage{Role: msg.Role, Content: msg.Content})
		}
	}
	return out
}
