package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// ollamaProvider runs completions against a local Ollama server.
type ollamaProvider struct {
	llm   *ollama.LLM
	model string
}

func newOllama(cfg Config) (Provider, error) {
	client, err := ollama.New(
		ollama.WithServerURL(cfg.OllamaURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("llm: create ollama client: %w", err)
	}
	return &ollamaProvider{llm: client, model: cfg.Model}, nil
}

func (p *ollamaProvider) Complete(ctx context.Context, prompt string, opts Options) (Completion, error) {
	resp, err := p.llm.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithTemperature(opts.Temperature),
		llms.WithMaxTokens(maxTokensOrDefault(opts)),
	)
	if err != nil {
		return Completion{}, fmt.Errorf("llm: ollama completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("llm: ollama returned no choices")
	}

	choice := resp.Choices[0]
	return Completion{
		Text:  choice.Content,
		Model: p.model,
		Usage: usageFromGenerationInfo(choice.GenerationInfo),
	}, nil
}

func (p *ollamaProvider) Model() string {
	return p.model
}
