package embeddings

import "github.com/edurag/edurag/config"

func testConfig() config.Config {
	return config.Config{
		Embeddings: config.EmbeddingsConfig{
			Provider:   config.EmbedProviderOllama,
			Model:      "all-mpnet-base-v2",
			Dimension:  768,
			MaxTokens:  384,
			OllamaHost: "http://localhost:11434",
		},
	}
}
