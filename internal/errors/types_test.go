package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransientClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit transient", NewTransient(fmt.Errorf("x"), ""), true},
		{"explicit permanent", NewPermanent(fmt.Errorf("x"), ""), false},
		{"wrapped transient", fmt.Errorf("outer: %w", NewTransient(fmt.Errorf("x"), "")), true},
		{"http 429", NewHTTPStatusError(http.StatusTooManyRequests, "429 Too Many Requests", ""), true},
		{"http 503", NewHTTPStatusError(http.StatusServiceUnavailable, "503", ""), true},
		{"http 401", NewHTTPStatusError(http.StatusUnauthorized, "401", ""), false},
		{"http 400", NewHTTPStatusError(http.StatusBadRequest, "400", ""), false},
		{"connection refused text", fmt.Errorf("dial tcp: connection refused"), true},
		{"deadline text", fmt.Errorf("context deadline exceeded"), true},
		{"plain error", fmt.Errorf("invalid model name"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsDegraded(t *testing.T) {
	assert.True(t, IsDegraded(NewDegraded(fmt.Errorf("circuit open"), "")))
	assert.True(t, IsDegraded(fmt.Errorf("wrap: %w", NewDegraded(fmt.Errorf("x"), ""))))
	assert.False(t, IsDegraded(NewTransient(fmt.Errorf("x"), "")))
	assert.False(t, IsDegraded(nil))
}

func TestFormatForModel(t *testing.T) {
	assert.Equal(t, "", FormatForModel(nil))
	assert.Equal(t, "try again later", FormatForModel(NewTransient(fmt.Errorf("x"), "try again later")))
	assert.Contains(t, FormatForModel(fmt.Errorf("HTTP 429 rate limit")), "rate limit")
	assert.Contains(t, FormatForModel(fmt.Errorf("context deadline exceeded")), "timed out")
	assert.Contains(t, FormatForModel(fmt.Errorf("401 unauthorized")), "API key")
	assert.Equal(t, "something odd", FormatForModel(fmt.Errorf("something odd")))
}

func TestHTTPStatusErrorMessage(t *testing.T) {
	err := NewHTTPStatusError(502, "502 Bad Gateway", "upstream sad")
	assert.Equal(t, "HTTP 502: 502 Bad Gateway", err.Error())
}
