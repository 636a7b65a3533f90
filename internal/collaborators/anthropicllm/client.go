// Package anthropicllm implements collaborators.LLMClient against the
// real Anthropic Messages API. It is the analyst-call collaborator: the
// pipeline's narrative-analysis stage (C4 input) calls through this
// client and treats its raw JSON-shaped reply as untrusted (I6 applies
// downstream in internal/analysisbuilder, not here).
package anthropicllm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jasonmaxxxon/discourse-lens/internal/breaker"
)

// Config tunes the client's model selection and circuit breaker.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int64
	BreakerName string
}

// Client wraps the Anthropic SDK behind collaborators.LLMClient, with
// calls routed through a gobreaker circuit breaker (spec §7 rate-limit
// protection) so a flapping provider doesn't stall every worker.
type Client struct {
	api     anthropic.Client
	model   anthropic.Model
	maxTok  int64
	breaker *breaker.Breaker
}

// New builds an anthropicllm.Client. Never dials out at construction time.
func New(cfg Config) *Client {
	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5
	}
	maxTok := cfg.MaxTokens
	if maxTok <= 0 {
		maxTok = 4096
	}
	name := cfg.BreakerName
	if name == "" {
		name = "anthropic-llm"
	}
	return &Client{
		api:     anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   model,
		maxTok:  maxTok,
		breaker: breaker.New(breaker.DefaultConfig(name)),
	}
}

// Analyze sends prompt as a single user turn and returns the concatenated
// text of all text blocks, parsed as JSON. A reply that isn't valid JSON is
// returned wrapped in {"raw": "..."} so the analysis builder's validation
// step (not this client) is the single place that rejects malformed output.
func (c *Client) Analyze(ctx context.Context, prompt string) (map[string]any, error) {
	result, err := c.breaker.Do(ctx, func(ctx context.Context) (any, error) {
		return c.api.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: c.maxTok,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("anthropicllm: messages.new: %w", err)
	}

	msg := result.(*anthropic.Message)
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return map[string]any{"raw": text}, nil
	}
	return payload, nil
}
