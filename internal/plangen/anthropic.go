package plangen

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/beaconhq/growth-engine/pkg/anthropic"
)

// AnthropicGenerator implements TextGenerator on the Anthropic messages API.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicGenerator creates a TextGenerator backed by the given client.
func NewAnthropicGenerator(client anthropic.Client, model string, maxTokens int64) *AnthropicGenerator {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicGenerator{client: client, model: model, maxTokens: maxTokens}
}

// GenerateText sends one message and returns the concatenated text content.
// The system prompt is the same for every job, so it goes out with a cache
// breakpoint and only the per-tenant user prompt is billed at the full rate.
func (g *AnthropicGenerator) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	req := anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	}
	if system != "" {
		req.System = anthropic.BuildCachedSystemBlocks(system)
	}

	resp, err := g.client.CreateMessage(ctx, req)
	if err != nil {
		return "", eris.Wrap(err, "plangen: anthropic request")
	}
	resp.Usage.LogCost(g.model, "plan_generation")

	text := resp.Text()
	if text == "" {
		return "", eris.New("plangen: anthropic response has no text content")
	}
	return text, nil
}
