// Package llm abstracts chat-completion providers behind a single Complete
// call. Three providers are supported: OpenAI and Ollama through langchaingo,
// and Anthropic through its native SDK.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sportswire/sportswire/pkg/config"
	"github.com/sportswire/sportswire/pkg/telemetry"
)

// DefaultMaxTokens bounds completions when the caller does not set a limit.
const DefaultMaxTokens = 4096

// Options controls a single completion request.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Usage reports token accounting for one completion. Zero values mean the
// provider did not report usage.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the provider's answer to one prompt.
type Completion struct {
	Text  string
	Model string
	Usage Usage
}

// Provider runs single-prompt completions against one configured model.
type Provider interface {
	Complete(ctx context.Context, prompt string, opts Options) (Completion, error)
	Model() string
}

// Config selects and parameterizes a provider.
type Config struct {
	// Provider is one of "openai", "ollama", "anthropic".
	Provider string
	Model    string

	APIKey    string
	BaseURL   string // OpenAI-compatible endpoint override
	OllamaURL string

	MaxTokens int
}

// DefaultConfig returns LLM configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:  "openai",
		OllamaURL: "http://localhost:11434",
		MaxTokens: DefaultMaxTokens,
	}
}

// defaultModels maps each provider to the model used when LLM_MODEL is unset.
var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"ollama":    "llama3.1",
	"anthropic": "claude-sonnet-4-5",
}

// LoadConfigFromEnv loads LLM configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.Provider = strings.ToLower(config.GetEnv("LLM_PROVIDER", cfg.Provider))
	cfg.Model = config.GetEnv("LLM_MODEL", defaultModels[cfg.Provider])
	cfg.BaseURL = config.GetEnv("OPENAI_BASE_URL", "")
	cfg.OllamaURL = config.GetEnv("OLLAMA_BASE_URL", cfg.OllamaURL)
	cfg.MaxTokens = config.GetEnvInt("LLM_MAX_TOKENS", cfg.MaxTokens)

	switch cfg.Provider {
	case "anthropic":
		cfg.APIKey = config.GetEnv("ANTHROPIC_API_KEY", "")
	default:
		cfg.APIKey = config.GetEnv("OPENAI_API_KEY", "")
	}
	return cfg
}

// New constructs the provider selected by cfg.Provider, instrumented with
// request metrics.
func New(cfg Config) (Provider, error) {
	if cfg.Model == "" {
		cfg.Model = defaultModels[cfg.Provider]
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	var (
		provider Provider
		err      error
	)
	switch cfg.Provider {
	case "openai":
		provider, err = newOpenAI(cfg)
	case "ollama":
		provider, err = newOllama(cfg)
	case "anthropic":
		provider, err = newAnthropic(cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q (want openai, ollama, or anthropic)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return &instrumented{name: cfg.Provider, inner: provider}, nil
}

// instrumented wraps a provider with the shared Prometheus collectors.
type instrumented struct {
	name  string
	inner Provider
}

func (p *instrumented) Complete(ctx context.Context, prompt string, opts Options) (Completion, error) {
	start := time.Now()
	completion, err := p.inner.Complete(ctx, prompt, opts)
	telemetry.LLMDuration.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.LLMRequests.WithLabelValues(p.name, "error").Inc()
		return Completion{}, err
	}
	telemetry.LLMRequests.WithLabelValues(p.name, "success").Inc()
	return completion, nil
}

func (p *instrumented) Model() string {
	return p.inner.Model()
}
