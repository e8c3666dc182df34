package ai

import (
	"context"
	"fmt"
	"strings"
)

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Gemini, Ollama, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Supported generation providers.
const (
	ProviderGemini       = "gemini"
	ProviderOllama       = "ollama"
	ProviderOpenAICompat = "openai-compat"
)

// GeneratorConfig selects and configures a generation provider.
type GeneratorConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// NewTextGenerator builds the generator named by cfg.Provider (gemini by default).
func NewTextGenerator(cfg GeneratorConfig, opts ...Option) (TextGenerator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderGemini
	}
	if cfg.BaseURL != "" && provider != ProviderOpenAICompat {
		opts = append([]Option{WithBaseURL(cfg.BaseURL)}, opts...)
	}
	switch provider {
	case ProviderGemini:
		return NewGeminiGenerator(cfg.APIKey, cfg.Model, opts...)
	case ProviderOllama:
		return NewOllamaGenerator(cfg.Model, opts...)
	case ProviderOpenAICompat:
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", provider)
	}
}
