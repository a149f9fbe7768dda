// Package gemini adapts the Google Generative AI API to the provider
// gateway interface. The same client also serves as a memory.Embedder
// through its embedding models.
package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/piskevalee-cpu/MARK/core"
	"github.com/piskevalee-cpu/MARK/provider"
)

const (
	// DefaultModel is used when the config names none.
	DefaultModel = "gemini-2.0-flash"

	// DefaultEmbedModel produces 768-dimensional vectors.
	DefaultEmbedModel      = "text-embedding-004"
	defaultEmbedDimensions = 768
)

// Gateway talks to the Gemini API.
type Gateway struct {
	client     *genai.Client
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

// New creates a Gemini gateway.
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Gateway, error) {
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	g := &Gateway{
		client:     client,
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
func (g *Gateway) Name() string { return "gemini" }

// Model returns the configured model identifier.
func (g *Gateway) Model() string { return g.model }

// Complete sends the request and returns the full response.
func (g *Gateway) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	chat := g.chat(req)
	resp, err := chat.SendMessage(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, &provider.GatewayError{Provider: g.Name(), Err: err}
	}
	return toResponse(resp), nil
}

// StreamComplete streams the response, invoking onChunk per fragment.
func (g *Gateway) StreamComplete(ctx context.Context, req *provider.Request, onChunk func(string)) (*provider.Response, error) {
	chat := g.chat(req)
	iter := chat.SendMessageStream(ctx, genai.Text(req.Prompt))

	var full provider.Response
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, &provider.GatewayError{Provider: g.Name(), Err: err}
		}
		part := toResponse(resp)
		if part.Text != "" {
			onChunk(part.Text)
			full.Text += part.Text
		}
		full.Usage = part.Usage // usage metadata is cumulative
	}
	return &full, nil
}

// Embed converts text to an embedding vector, satisfying memory.Embedder.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := g.client.EmbeddingModel(g.embedModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, &provider.GatewayError{Provider: g.Name(), Err: err}
	}
	if res.Embedding == nil {
		return nil, &provider.GatewayError{Provider: g.Name(), Err: fmt.Errorf("empty embedding response")}
	}
	return res.Embedding.Values, nil
}

// Dimensions returns the embedding vector size.
func (g *Gateway) Dimensions() int { return g.dimensions }

// Close releases the underlying client.
func (g *Gateway) Close() error {
	return g.client.Close()
}

// chat builds a per-request chat session carrying system prompt and
// history. Model instances are cheap handles, so one per call is fine.
func (g *Gateway) chat(req *provider.Request) *genai.ChatSession {
	model := g.client.GenerativeModel(g.model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	chat := model.StartChat()
	for _, msg := range req.History {
		role := "user"
		if msg.Role == core.RoleAssistant {
			role = "model"
		}
		chat.History = append(chat.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return chat
}

func toResponse(resp *genai.GenerateContentResponse) *provider.Response {
	out := &provider.Response{}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				out.Text += string(text)
			}
		}
	}
	if resp.UsageMetadata != nil {
		out.Usage = core.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out
}
