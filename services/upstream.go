package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 60 * time.Second

var (
	ErrUnauthenticated = errors.New("chat: missing or rejected credential")
	ErrRateLimited     = errors.New("chat: rate limited by upstream")
	ErrEmptyResponse   = errors.New("chat: response contained no choices")
	ErrEmptyPrompt     = errors.New("chat: prompt cannot be empty")
)

// UpstreamError is a non-2xx answer from the chat completion service that is
// not an auth or rate limit rejection.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat api error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("chat api error (%d): %s", e.StatusCode, e.Message)
}

// newHTTPClientWithTimeout builds an HTTP client with a custom timeout.
// Falls back to the package default when duration is non-positive.
func newHTTPClientWithTimeout(d time.Duration) *http.Client {
	if d <= 0 {
		d = defaultHTTPTimeout
	}
	return &http.Client{Timeout: d}
}

// classifyStatus maps an upstream HTTP status to the package error taxonomy.
func classifyStatus(statusCode int, message string) error {
	message = strings.TrimSpace(message)
	if len(message) > 256 {
		message = message[:256]
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if message == "" {
			return ErrUnauthenticated
		}
		return fmt.Errorf("%w: %s", ErrUnauthenticated, message)
	case http.StatusTooManyRequests:
		if message == "" {
			return ErrRateLimited
		}
		return fmt.Errorf("%w: %s", ErrRateLimited, message)
	}

	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &UpstreamError{StatusCode: statusCode, Message: message}
}
