// Package providers implements the LLM backends behind the agent engine.
// Each provider translates the gateway's message shape to its API and back,
// and streams the response through a channel it closes when done.
package providers

import (
	"context"
	"fmt"

	"github.com/switchyard-ai/switchyard/pkg/models"
)

// Provider is a streaming LLM backend. Implementations must be safe for
// concurrent use; each Complete call owns an independent stream.
type Provider interface {
	// Complete sends the request and returns a channel of response chunks.
	// The channel is closed by the provider when the stream ends.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the stable lowercase provider identifier.
	Name() string

	// SupportsTools reports whether the provider can request tool execution.
	SupportsTools() bool
}

// CompletionRequest carries one generation turn.
type CompletionRequest struct {
	Model     string                  `json:"model"`
	System    string                  `json:"system,omitempty"`
	Messages  []models.Message        `json:"messages"`
	Tools     []models.ToolDefinition `json:"tools,omitempty"`
	MaxTokens int                     `json:"max_tokens,omitempty"`
}

// CompletionChunk is one streamed element of a provider response. Exactly
// one of Text, ToolCall, Done, or Error is meaningful per chunk; token
// counts ride on the Done chunk.
type CompletionChunk struct {
	Text         string           `json:"text,omitempty"`
	ToolCall     *models.ToolCall `json:"tool_call,omitempty"`
	Done         bool             `json:"done,omitempty"`
	InputTokens  int              `json:"input_tokens,omitempty"`
	OutputTokens int              `json:"output_tokens,omitempty"`
	Error        error            `json:"-"`
}

// ProviderError wraps an API failure with enough context to decide on a
// retry. Only rate limits (429) and server errors (5xx) are retryable.
type ProviderError struct {
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: request failed (status %d): %v", e.Provider, e.Status, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Retryable reports whether the failure is transient. Client errors other
// than 429 are never retried: the request will not get better.
func (e *ProviderError) Retryable() bool {
	return e.Status == 429 || (e.Status >= 500 && e.Status <= 599)
}
