package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicProvider uses the native Anthropic SDK rather than a compatibility
// shim, so token usage and model names come back exactly as reported.
type anthropicProvider struct {
	client anthropic.Client
	model  string
}

func newAnthropic(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: ANTHROPIC_API_KEY is required for the anthropic provider")
	}
	return &anthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
	}, nil
}

func (p *anthropicProvider) Complete(ctx context.Context, prompt string, opts Options) (Completion, error) {
	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(maxTokensOrDefault(opts)),
		Temperature: anthropic.Float(opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Completion{}, fmt.Errorf("llm: anthropic completion: %w", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	inTokens := int(message.Usage.InputTokens)
	outTokens := int(message.Usage.OutputTokens)
	return Completion{
		Text:  text,
		Model: string(message.Model),
		Usage: Usage{
			PromptTokens:     inTokens,
			CompletionTokens: outTokens,
			TotalTokens:      inTokens + outTokens,
		},
	}, nil
}

func (p *anthropicProvider) Model() string {
	return p.model
}
