package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// openAIProvider serves OpenAI and any OpenAI-compatible endpoint via BaseURL.
type openAIProvider struct {
	llm   *openai.LLM
	model string
}

func newOpenAI(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: OPENAI_API_KEY is required for the openai provider")
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: create openai client: %w", err)
	}
	return &openAIProvider{llm: client, model: cfg.Model}, nil
}

func (p *openAIProvider) Complete(ctx context.Context, prompt string, opts Options) (Completion, error) {
	resp, err := p.llm.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithTemperature(opts.Temperature),
		llms.WithMaxTokens(maxTokensOrDefault(opts)),
	)
	if err != nil {
		return Completion{}, fmt.Errorf("llm: openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("llm: openai returned no choices")
	}

	choice := resp.Choices[0]
	return Completion{
		Text:  choice.Content,
		Model: p.model,
		Usage: usageFromGenerationInfo(choice.GenerationInfo),
	}, nil
}

func (p *openAIProvider) Model() string {
	return p.model
}

func maxTokensOrDefault(opts Options) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return DefaultMaxTokens
}

// usageFromGenerationInfo pulls token counts out of langchaingo's loosely
// typed GenerationInfo map.
func usageFromGenerationInfo(info map[string]any) Usage {
	return Usage{
		PromptTokens:     intFromInfo(info, "PromptTokens"),
		CompletionTokens: intFromInfo(info, "CompletionTokens"),
		TotalTokens:      intFromInfo(info, "TotalTokens"),
	}
}

func intFromInfo(info map[string]any, key string) int {
	if info == nil {
		return 0
	}
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
