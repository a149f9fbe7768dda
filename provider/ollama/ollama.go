// Package ollama adapts a local Ollama server to the provider gateway
// interface, including its embedding endpoint for memory.Embedder.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	api "github.com/ollama/ollama/api"

	"github.com/piskevalee-cpu/MARK/core"
	"github.com/piskevalee-cpu/MARK/provider"
)

const (
	// DefaultHost is the standard local Ollama endpoint.
	DefaultHost = "http://localhost:11434"

	// DefaultModel is used when the config names none.
	DefaultModel = "llama3.2"

	// DefaultEmbedModel produces 768-dimensional vectors.
	DefaultEmbedModel      = "nomic-embed-text"
	defaultEmbedDimensions = 768
)

// Gateway talks to a local Ollama server.
type Gateway struct {
	client     *api.Client
	model      string
	embedModel string
	dimensions int
}

// Option configures the gateway.
type Option func(*Gateway)

// WithEmbedModel overrides the embedding model and its vector size.
// Empty name or non-positive dimensions keep the defaults.
func WithEmbedModel(name string, dimensions int) Option {
	return func(g *Gateway) {
		if name != "" {
			g.embedModel = name
		}
		if dimensions > 0 {
			g.dimensions = dimensions
		}
	}
}

// New creates an Ollama gateway for the given host.
func New(host, model string, opts ...Option) (*Gateway, error) {
	if host == "" {
		host = DefaultHost
	}
	if model == "" {
		model = DefaultModel
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host %q: %w", host, err)
	}

	g := &Gateway{
		// Local generation can be slow; leave plenty of room.
		client:     api.NewClient(base, &http.Client{Timeout: 5 * time.Minute}),
		model:      model,
		embedModel: DefaultEmbedModel,
		dimensions: defaultEmbedDimensions,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Name identifies the backend.
func (g *Gateway) Name() string { return "ollama" }

// Model returns the configured model identifier.
func (g *Gateway) Model() string { return g.model }

// Complete sends the request and returns the full response.
func (g *Gateway) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	return g.generate(ctx, req, nil)
}

// StreamComplete streams the response, invoking onChunk per fragment.
func (g *Gateway) StreamComplete(ctx context.Context, req *provider.Request, onChunk func(string)) (*provider.Response, error) {
	return g.generate(ctx, req, onChunk)
}

func (g *Gateway) generate(ctx context.Context, req *provider.Request, onChunk func(string)) (*provider.Response, error) {
	stream := onChunk != nil
	greq := &api.GenerateRequest{
		Model:  g.model,
		Prompt: foldPrompt(req),
		System: req.System,
		Stream: &stream,
	}

	var text strings.Builder
	var usage core.TokenUsage
	err := g.client.Generate(ctx, greq, func(resp api.GenerateResponse) error {
		text.WriteString(resp.Response)
		if onChunk != nil && resp.Response != "" {
			onChunk(resp.Response)
		}
		if resp.Done {
			usage = core.TokenUsage{
				InputTokens:  resp.Metrics.PromptEvalCount,
				OutputTokens: resp.Metrics.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		return nil, &provider.GatewayError{Provider: g.Name(), Err: err}
	}
	return &provider.Response{Text: text.String(), Usage: usage}, nil
}

// Embed converts text to an embedding vector, satisfying memory.Embedder.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  g.embedModel,
		Prompt: text,
	})
	if err != nil {
		return nil, &provider.GatewayError{Provider: g.Name(), Err: err}
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Dimensions returns the embedding vector size.
func (g *Gateway) Dimensions() int { return g.dimensions }

// foldPrompt flattens history into a plain prompt, since the generate
// endpoint takes a single string.
func foldPrompt(req *provider.Request) string {
	if len(req.History) == 0 {
		return req.Prompt
	}
	var b strings.Builder
	for _, msg := range req.History {
		switch msg.Role {
		case core.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(req.Prompt)
	b.WriteString("\nAssistant:")
	return b.String()
}
