// Package provider defines the LLM gateway interface MARK's chat loop
// and Kleos pipeline run against, with adapters per backend.
package provider

import (
	"context"
	"fmt"

	"github.com/piskevalee-cpu/MARK/core"
)

// Request is a single completion request.
type Request struct {
	// System is the system prompt, empty for none.
	System string

	// Prompt is the user message to answer.
	Prompt string

	// History holds earlier turns of the conversation, oldest first.
	History []core.Message

	// MaxTokens caps the response length. Zero means the adapter default.
	MaxTokens int64
}

// Response is the model's answer plus token accounting.
type Response struct {
	Text  string
	Usage core.TokenUsage
}

// Gateway is a completion backend.
//
// Implementations: anthropic.Gateway, gemini.Gateway, ollama.Gateway.
type Gateway interface {
	// Name identifies the backend ("anthropic", "gemini", "ollama").
	Name() string

	// Model returns the configured model identifier.
	Model() string

	// Complete sends the request and returns the full response.
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Streamer is implemented by gateways that can deliver the response
// incrementally. onChunk receives each text fragment as it arrives; the
// returned Response carries the complete text.
type Streamer interface {
	StreamComplete(ctx context.Context, req *Request, onChunk func(chunk string)) (*Response, error)
}

// GatewayError wraps any backend failure so callers can tell transport
// problems apart from their own errors.
type GatewayError struct {
	Provider string
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Provider, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
