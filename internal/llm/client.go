// Package llm talks to the local inference backend. The HTTP API is the
// primary path; the ollama command line is available as a fallback for
// hosts where the server is not listening.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnreachable means the backend could not be contacted at all, as
// opposed to answering with an error.
var ErrUnreachable = errors.New("ollama is unreachable")

// Client generates completions for a prompt.
type Client interface {
	// Generate returns the model's full reply to prompt.
	Generate(ctx context.Context, model, prompt string) (string, error)

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ollama API error %d", e.StatusCode)
	}
	return fmt.Sprintf("ollama API error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether a later attempt might succeed. A 404
// usually means the model is not pulled, which retrying will not fix.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// unreachableError wraps a transport failure so callers can test for
// ErrUnreachable while keeping the cause for logs and retry decisions.
type unreachableError struct {
	err error
}

func (e *unreachableError) Error() string { return "ollama is unreachable: " + e.err.Error() }

func (e *unreachableError) Unwrap() []error { return []error{ErrUnreachable, e.err} }

// Retryable is always true; an unreachable backend may come back.
func (e *unreachableError) Retryable() bool { return true }
