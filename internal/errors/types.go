// Package errors classifies failures for retry, fallback, and user-facing
// reporting across the orchestration core.
package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError represents an error that can be retried.
type TransientError struct {
	Err        error
	StatusCode int    // HTTP status code if applicable
	RetryAfter int    // Seconds to wait before retry (from Retry-After header)
	Message    string // Model-facing message
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError represents an error that should not be retried.
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// DegradedError represents an error where service continues with reduced
// functionality, e.g. an open circuit breaker.
type DegradedError struct {
	Err     error
	Message string
}

func (e *DegradedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("degraded error: %v", e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// NewTransient wraps err with a model-facing message and marks it retryable.
func NewTransient(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewPermanent wraps err with a model-facing message and marks it non-retryable.
func NewPermanent(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

// NewDegraded wraps err for circuit-open conditions.
func NewDegraded(err error, message string) *DegradedError {
	return &DegradedError{Err: err, Message: message}
}

// IsTransient reports whether an error is worth retrying or advancing the
// fallback chain for.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}

	if isNetworkError(err) || isSyscallError(err) {
		return true
	}
	if code := httpStatusFrom(err); code > 0 {
		return isTransientHTTPStatus(code)
	}
	return false
}

// IsDegraded reports whether the error allows degraded continuation.
func IsDegraded(err error) bool {
	var degraded *DegradedError
	return errors.As(err, &degraded)
}

// FormatForModel converts technical errors to short actionable messages that
// can be fed back into a model conversation.
func FormatForModel(err error) string {
	if err == nil {
		return ""
	}

	var transient *TransientError
	if errors.As(err, &transient) && transient.Message != "" {
		return transient.Message
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) && permanent.Message != "" {
		return permanent.Message
	}
	var degraded *DegradedError
	if errors.As(err, &degraded) && degraded.Message != "" {
		return degraded.Message
	}

	lowerErr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErr, "rate limit"), strings.Contains(lowerErr, "429"):
		return "API rate limit reached. The system retries automatically with backoff."
	case strings.Contains(lowerErr, "timeout"), strings.Contains(lowerErr, "deadline exceeded"):
		return "Request timed out. Try breaking the operation into smaller steps."
	case strings.Contains(lowerErr, "connection refused"):
		return "Upstream service is not reachable. Check that it is running."
	case strings.Contains(lowerErr, "unauthorized"), strings.Contains(lowerErr, "401"):
		return "Authentication failed. Check the provider API key."
	case strings.Contains(lowerErr, "forbidden"), strings.Contains(lowerErr, "403"):
		return "Permission denied for this model or resource."
	case strings.Contains(lowerErr, "not found"), strings.Contains(lowerErr, "404"):
		return "Model or endpoint not found. Verify the model name."
	case strings.Contains(lowerErr, "500"), strings.Contains(lowerErr, "502"),
		strings.Contains(lowerErr, "503"), strings.Contains(lowerErr, "504"):
		return "Upstream server error. The service is temporarily unavailable."
	}
	return err.Error()
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	lowerErr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused", "connection reset", "broken pipe",
		"timeout", "deadline exceeded", "dns",
	} {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// httpStatusFrom extracts a status code from wrapped HTTPStatusError values or
// from the "HTTP <code>" convention used by provider clients.
func httpStatusFrom(err error) int {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}

	lowerErr := strings.ToLower(err.Error())
	for _, code := range []int{429, 500, 502, 503, 504, 400, 401, 403, 404} {
		if strings.Contains(lowerErr, fmt.Sprintf("%d", code)) {
			return code
		}
	}
	return 0
}

// HTTPStatusError carries a provider HTTP failure with its body.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// NewHTTPStatusError creates an HTTP status error.
func NewHTTPStatusError(statusCode int, status, body string) error {
	return &HTTPStatusError{StatusCode: statusCode, Status: status, Body: body}
}
