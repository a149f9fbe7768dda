// Package anthropic adapts the Anthropic Messages API to the provider
// gateway interface.
package anthropic

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/piskevalee-cpu/MARK/core"
	"github.com/piskevalee-cpu/MARK/provider"
)

// DefaultModel is used when the config names none.
const DefaultModel = "claude-sonnet-4-20250514"

const defaultMaxTokens = 4096

// Gateway talks to the Anthropic Messages API.
type Gateway struct {
	client *sdk.Client
	model  string
}

// New creates an Anthropic gateway.
func New(apiKey, model string) *Gateway {
	if model == "" {
		model = DefaultModel
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &Gateway{client: &client, model: model}
}

// Name identifies the backend.
func (g *Gateway) Name() string { return "anthropic" }

// Model returns the configured model identifier.
func (g *Gateway) Model() string { return g.model }

// Complete sends the request and returns the full response.
func (g *Gateway) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	resp, err := g.client.Messages.New(ctx, g.params(req))
	if err != nil {
		return nil, &provider.GatewayError{Provider: g.Name(), Err: err}
	}
	return toResponse(resp), nil
}

// StreamComplete streams the response, invoking onChunk per text delta.
func (g *Gateway) StreamComplete(ctx context.Context, req *provider.Request, onChunk func(string)) (*provider.Response, error) {
	stream := g.client.Messages.NewStreaming(ctx, g.params(req))
	defer stream.Close()

	message := sdk.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			// Accumulation errors are non-fatal; the stream continues.
			continue
		}
		switch evt := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			if delta, ok := evt.Delta.AsAny().(sdk.TextDelta); ok {
				onChunk(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, &provider.GatewayError{Provider: g.Name(), Err: err}
	}
	return toResponse(&message), nil
}

func (g *Gateway) params(req *provider.Request) sdk.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	messages := make([]sdk.MessageParam, 0, len(req.History)+1)
	for _, msg := range req.History {
		switch msg.Role {
		case core.RoleAssistant:
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
		}
	}
	messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)))

	params := sdk.MessageNewParams{
		Model:     sdk.Model(g.model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	return params
}

func toResponse(resp *sdk.Message) *provider.Response {
	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return &provider.Response{
		Text: text,
		Usage: core.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
}
