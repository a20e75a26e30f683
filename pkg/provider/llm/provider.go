// Package llm defines the Provider interface for the language models that
// turn a transcript into a short title.
//
// Implementations must be safe for concurrent use; several enrichment jobs may
// request completions at the same time.
package llm

import (
	"context"
	"errors"
)

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyCompletion is returned when the backend answers without any text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Message is a single entry of the prompt.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest carries the prompt and sampling settings.
type CompletionRequest struct {
	Messages []Message

	// Temperature is forwarded when non-zero.
	Temperature float64

	// MaxTokens caps the generated tokens. Zero leaves the provider default.
	MaxTokens int
}

// Usage is the token accounting reported by the backend, when it reports any.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// CompletionResponse is the result of [Provider.Complete].
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any completion backend.
type Provider interface {
	// Complete sends req and waits for the full answer. It returns promptly
	// with ctx.Err() once ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// UserPrompt is shorthand for a request carrying a single user message.
func UserPrompt(text string) CompletionRequest {
	return CompletionRequest{Messages: []Message{{Role: RoleUser, Content: text}}}
}
