package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"

	"kory/internal/tools"
)

const (
	fetchCacheSize  = 256
	fetchCacheTTL   = 15 * time.Minute
	maxFetchedChars = 15000
)

type fetchEntry struct {
	content   string
	finalURL  string
	fetchedAt time.Time
}

type webFetch struct {
	client *http.Client
	cache  *lru.Cache[string, fetchEntry]
}

// NewWebFetch creates the web_fetch tool: HTTP GET, HTML reduced to clean
// text, results cached for 15 minutes.
func NewWebFetch() tools.Executor {
	cache, _ := lru.New[string, fetchEntry](fetchCacheSize)
	return &webFetch{
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		cache: cache,
	}
}

func (t *webFetch) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	urlStr, ok := tools.StringArg(call, "url")
	if !ok || urlStr == "" {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("missing 'url'")}, nil
	}

	parsed, err := neturl.Parse(urlStr)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("invalid URL: %w", err)}, nil
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("URL must use http or https")}, nil
	}

	if entry, ok := t.cache.Get(urlStr); ok && time.Since(entry.fetchedAt) < fetchCacheTTL {
		return t.result(call.ID, entry.finalURL, entry.content, true), nil
	}

	content, finalURL, err := t.fetch(ctx, urlStr)
	if err != nil {
		return &tools.ToolResult{CallID: call.ID, Error: fmt.Errorf("fetch %s: %w", urlStr, err)}, nil
	}

	t.cache.Add(urlStr, fetchEntry{content: content, finalURL: finalURL, fetchedAt: time.Now()})
	return t.result(call.ID, finalURL, content, false), nil
}

func (t *webFetch) fetch(ctx context.Context, urlStr string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", "kory/1.0 (web content fetcher)")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}

	content, err := htmlToText(string(body))
	if err != nil {
		return "", "", err
	}
	return content, resp.Request.URL.String(), nil
}

// htmlToText strips noise elements and flattens the page into markdown-like
// text, capped at maxFetchedChars.
func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, footer, header, aside, iframe").Remove()

	var content strings.Builder
	if title := strings.TrimSpace(doc.Find("title").Text()); title != "" {
		content.WriteString("# " + title + "\n\n")
	}

	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(i int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			level := int(s.Get(0).Data[1] - '0')
			content.WriteString(strings.Repeat("#", level) + " " + text + "\n\n")
		}
	})

	doc.Find("p, article, section").Each(func(i int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); len(text) > 30 {
			content.WriteString(text + "\n\n")
		}
	})

	doc.Find("ul, ol").Each(func(i int, s *goquery.Selection) {
		s.Find("li").Each(func(j int, li *goquery.Selection) {
			if text := strings.TrimSpace(li.Text()); text != "" {
				content.WriteString("- " + text + "\n")
			}
		})
		content.WriteString("\n")
	})

	result := content.String()
	if len(result) > maxFetchedChars {
		result = result[:maxFetchedChars] + "\n\n[Content truncated]"
	}
	return result, nil
}

func (t *webFetch) result(callID, url, content string, cached bool) *tools.ToolResult {
	status := ""
	if cached {
		status = " (cached)"
	}
	return &tools.ToolResult{
		CallID:  callID,
		Content: fmt.Sprintf("Source: %s%s\n\n%s", url, status, content),
		Metadata: map[string]any{
			"url":          url,
			"cached":       cached,
			"content_size": len(content),
		},
	}
}

func (t *webFetch) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "web_fetch",
		Description: "Fetch a web page and return its content as clean text",
		Parameters: tools.ParameterSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"url": {Type: "string", Description: "Full URL to fetch (http/https)"},
			},
			Required: []string{"url"},
		},
	}
}

func (t *webFetch) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name: "web_fetch", Version: "1.0.0", Category: "web", Tags: []string{"web", "fetch"},
		Roles: []string{tools.RoleManager, tools.RoleWorker},
	}
}
