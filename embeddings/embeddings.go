package embeddings

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/edurag/edurag/config"
)

// Embedder produces fixed-dimension unit-norm vectors. Implementations are
// deterministic for the same input; callers that share one instance across
// goroutines must check the binding's documentation or pool instances.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	Provider  string
	Model     string
	Dimension int
	MaxTokens int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewEmbedder(cfg config.Config) (Embedder, error) {
	opts := Options{
		Provider:      cfg.Embeddings.Provider,
		Model:         cfg.Embeddings.Model,
		Dimension:     cfg.Embeddings.Dimension,
		MaxTokens:     cfg.Embeddings.MaxTokens,
		OllamaHost:    cfg.Embeddings.OllamaHost,
		OpenAIAPIKey:  cfg.Embeddings.OpenAIAPIKey,
		OpenAIBaseURL: cfg.Embeddings.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.EmbedProviderOllama:
		return NewOllamaEmbedder(opts), nil
	case config.EmbedProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai embed provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIEmbedder(opts), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}
}

// L2Normalize scales the vector to unit length in place. Zero vectors are
// left untouched.
func L2Normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}

// truncateWords caps the text at maxTokens whitespace-separated words before
// it reaches the model. Subword tokens are not counted: a word is one or more
// subword tokens, so the result can still exceed maxTokens subword tokens.
func truncateWords(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ")
}
