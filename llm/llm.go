package llm

import (
	"context"
	"fmt"

	"github.com/edurag/edurag/config"
)

// Provider abstracts a text-completion backend. Implementations translate
// a flat prompt into the provider's wire shape and return plain text.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	Name() string
}

// NewProvider selects a binding from LLM_PROVIDER.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderLlama, "llama_cpp", "llamacpp", "":
		return NewLlamaCppProvider(cfg), nil
	case config.ProviderOpenAI, "gpt":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("LLM_API_KEY required for openai provider")
		}
		return NewOpenAIProvider(cfg), nil
	case config.ProviderCustom, "custom", "http":
		return NewCustomHTTPProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
