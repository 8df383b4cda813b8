// Package llm holds the provider clients that rewrite transcript chunks.
// Each provider wraps one HTTP API; none of them retry, the caller decides
// whether a failure means trying the next provider or giving up.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const DefaultTimeout = 5 * time.Minute

// Request is a single chunk rewrite.
type Request struct {
	System string
	Prompt string
}

// Provider turns a prompt into refined markdown.
type Provider interface {
	Name() string
	// Local reports whether the provider runs on this machine, with no
	// API key or network dependency beyond localhost.
	Local() bool
	Refine(ctx context.Context, req Request) (string, error)
}

// TransientError means this provider failed in a way the next one might
// not: rate limits, timeouts, 5xx, transport trouble.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError means no amount of failover will help: the credentials are
// missing or rejected.
type FatalError struct {
	Provider string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: fatal: %v", e.Provider, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// InvalidInputError means the provider rejected this particular request,
// other chunks and videos may still be fine.
type InvalidInputError struct {
	Provider string
	Err      error
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s: invalid input: %v", e.Provider, e.Err)
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

// classifyStatus maps a non-200 response onto the three failure kinds the
// caller distinguishes.
func classifyStatus(provider string, code int, body string) error {
	body = strings.TrimSpace(body)
	if len(body) > 512 {
		body = body[:512]
	}
	err := fmt.Errorf("status %d: %s", code, body)

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &FatalError{Provider: provider, Err: err}
	case code == http.StatusTooManyRequests:
		return &TransientError{Provider: provider, Err: err}
	case code >= 500:
		return &TransientError{Provider: provider, Err: err}
	case code == http.StatusBadRequest:
		return &InvalidInputError{Provider: provider, Err: err}
	default:
		return &TransientError{Provider: provider, Err: err}
	}
}

// classifyTransport maps request errors (DNS, refused connection, timeout,
// cancelled context) onto the caller's taxonomy. Context errors pass
// through untouched so cancellation stays recognizable.
func classifyTransport(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &TransientError{Provider: provider, Err: err}
}

// StripFences removes a markdown code fence wrapped around the whole
// response. Models add these despite instructions not to.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	if strings.TrimSpace(lines[len(lines)-1]) != "```" {
		return s
	}

	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
}
