// Package token counts tokens with tiktoken's cl100k_base encoding, with a
// character heuristic when the encoding cannot be loaded.
package token

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func enc() *tiktoken.Tiktoken {
	once.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = e
		}
	})
	return encoding
}

// Count returns the token count of text.
func Count(text string) int {
	if e := enc(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return Estimate(text)
}

// Estimate returns max(runes/4, words) without touching the encoder.
func Estimate(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	n := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); n < words {
		n = words
	}
	if n == 0 {
		n = 1
	}
	return n
}

// Truncate cuts text down to roughly maxTokens, appending an ellipsis when
// anything was removed.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if e := enc(); e != nil {
		toks := e.Encode(text, nil, nil)
		if len(toks) <= maxTokens {
			return text
		}
		return e.Decode(toks[:maxTokens]) + "..."
	}
	runes := []rune(text)
	limit := maxTokens * 4
	if limit >= len(runes) {
		return text
	}
	return string(runes[:limit]) + "..."
}
