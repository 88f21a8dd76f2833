package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ProviderLlama  = "llama"
	ProviderOpenAI = "openai"
	ProviderCustom = "custom_http"

	EmbedProviderOllama = "ollama"
	EmbedProviderOpenAI = "openai"
)

// Config carries every tunable of the engine and the gateway. Values come
// from the environment (optionally seeded by a .env file) with the defaults
// below.
type Config struct {
	ListenAddr  string
	GatewayAddr string
	BackendURL  string
	APIKey      string

	DatabaseURL string

	QdrantURL        string
	QdrantCollection string
	QdrantEF         int
	QdrantTimeout    time.Duration

	BleveIndexDir string

	Embeddings EmbeddingsConfig

	// RerankURL points at an optional cross-encoder pair-scoring endpoint.
	// Empty means the bi-encoder cosine fallback.
	RerankURL string

	TopKDense                 int
	TopKLex                   int
	MMRFinalSize              int
	MMRLambda                 float64
	RerankTopN                int
	RerankFinalN              int
	ContextK                  int
	RAGScoreFallbackThreshold float64

	PromptMaxTokens      int
	PromptReservedAnswer int
	PromptOverhead       int

	LLM LLMConfig

	SessionTTL      time.Duration
	PayloadCacheMax int
	PayloadCacheTTL time.Duration
	SessionRedisURL string
	BackendTimeout  time.Duration
}

type EmbeddingsConfig struct {
	Provider  string
	Model     string
	Dimension int
	MaxTokens int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

type LLMConfig struct {
	Provider    string
	URL         string
	Model       string
	Temperature float64
	MaxTokens   int
	APIKey      string
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("GATEWAY_ADDR", ":8090")
	v.SetDefault("BACKEND_URL", "http://localhost:8080")
	v.SetDefault("API_KEY", "")

	v.SetDefault("DATABASE_URL", "postgres://postgres@localhost:5432/learning_db?sslmode=disable")

	v.SetDefault("QDRANT_URL", "http://localhost:6333")
	v.SetDefault("QDRANT_COLLECTION", "learning_chunks")
	v.SetDefault("QDRANT_EF", 200)
	v.SetDefault("QDRANT_TIMEOUT_SEC", 10)

	v.SetDefault("BLEVE_INDEX_DIR", "bleve_index")

	v.SetDefault("EMBED_PROVIDER", EmbedProviderOllama)
	v.SetDefault("EMBED_MODEL", "all-mpnet-base-v2")
	v.SetDefault("EMBED_DIM", 768)
	v.SetDefault("EMBED_MAX_TOKENS", 384)
	v.SetDefault("OLLAMA_HOST", "http://localhost:11434")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_BASE_URL", "")

	v.SetDefault("RERANK_URL", "")

	v.SetDefault("TOPK_DENSE", 100)
	v.SetDefault("TOPK_LEX", 50)
	v.SetDefault("MMR_FINAL_SIZE", 20)
	v.SetDefault("MMR_LAMBDA", 0.7)
	v.SetDefault("RERANK_TOP_N", 20)
	v.SetDefault("RERANK_FINAL_N", 6)
	v.SetDefault("CONTEXT_K", 4)
	v.SetDefault("RAG_SCORE_FALLBACK_THRESHOLD", 0.3)

	v.SetDefault("PROMPT_MAX_TOKENS", 4096)
	v.SetDefault("PROMPT_RESERVED_ANSWER", 400)
	v.SetDefault("PROMPT_OVERHEAD", 200)

	v.SetDefault("LLM_PROVIDER", ProviderLlama)
	v.SetDefault("LLM_URL", "http://localhost:8081")
	v.SetDefault("LLM_MODEL", "gpt-3.5-turbo")
	v.SetDefault("LLM_TEMPERATURE", 0.2)
	v.SetDefault("LLM_MAX_TOKENS", 300)
	v.SetDefault("LLM_API_KEY", "")

	v.SetDefault("SESSION_TTL_SEC", 900)
	v.SetDefault("PAYLOAD_CACHE_MAX", 1000)
	v.SetDefault("PAYLOAD_CACHE_TTL_SEC", 300)
	v.SetDefault("SESSION_REDIS_URL", "")
	v.SetDefault("BACKEND_TIMEOUT_SEC", 120)

	return Config{
		ListenAddr:  v.GetString("LISTEN_ADDR"),
		GatewayAddr: v.GetString("GATEWAY_ADDR"),
		BackendURL:  strings.TrimRight(v.GetString("BACKEND_URL"), "/"),
		APIKey:      v.GetString("API_KEY"),

		DatabaseURL: v.GetString("DATABASE_URL"),

		QdrantURL:        strings.TrimRight(v.GetString("QDRANT_URL"), "/"),
		QdrantCollection: v.GetString("QDRANT_COLLECTION"),
		QdrantEF:         v.GetInt("QDRANT_EF"),
		QdrantTimeout:    time.Duration(v.GetInt("QDRANT_TIMEOUT_SEC")) * time.Second,

		BleveIndexDir: v.GetString("BLEVE_INDEX_DIR"),

		Embeddings: EmbeddingsConfig{
			Provider:      v.GetString("EMBED_PROVIDER"),
			Model:         v.GetString("EMBED_MODEL"),
			Dimension:     v.GetInt("EMBED_DIM"),
			MaxTokens:     v.GetInt("EMBED_MAX_TOKENS"),
			OllamaHost:    v.GetString("OLLAMA_HOST"),
			OpenAIAPIKey:  v.GetString("OPENAI_API_KEY"),
			OpenAIBaseURL: v.GetString("OPENAI_BASE_URL"),
		},

		RerankURL: v.GetString("RERANK_URL"),

		TopKDense:                 v.GetInt("TOPK_DENSE"),
		TopKLex:                   v.GetInt("TOPK_LEX"),
		MMRFinalSize:              v.GetInt("MMR_FINAL_SIZE"),
		MMRLambda:                 v.GetFloat64("MMR_LAMBDA"),
		RerankTopN:                v.GetInt("RERANK_TOP_N"),
		RerankFinalN:              v.GetInt("RERANK_FINAL_N"),
		ContextK:                  v.GetInt("CONTEXT_K"),
		RAGScoreFallbackThreshold: v.GetFloat64("RAG_SCORE_FALLBACK_THRESHOLD"),

		PromptMaxTokens:      v.GetInt("PROMPT_MAX_TOKENS"),
		PromptReservedAnswer: v.GetInt("PROMPT_RESERVED_ANSWER"),
		PromptOverhead:       v.GetInt("PROMPT_OVERHEAD"),

		LLM: LLMConfig{
			Provider:    strings.ToLower(strings.TrimSpace(v.GetString("LLM_PROVIDER"))),
			URL:         strings.TrimRight(v.GetString("LLM_URL"), "/"),
			Model:       v.GetString("LLM_MODEL"),
			Temperature: v.GetFloat64("LLM_TEMPERATURE"),
			MaxTokens:   v.GetInt("LLM_MAX_TOKENS"),
			APIKey:      v.GetString("LLM_API_KEY"),
		},

		SessionTTL:      time.Duration(v.GetInt("SESSION_TTL_SEC")) * time.Second,
		PayloadCacheMax: v.GetInt("PAYLOAD_CACHE_MAX"),
		PayloadCacheTTL: time.Duration(v.GetInt("PAYLOAD_CACHE_TTL_SEC")) * time.Second,
		SessionRedisURL: v.GetString("SESSION_REDIS_URL"),
		BackendTimeout:  time.Duration(v.GetInt("BACKEND_TIMEOUT_SEC")) * time.Second,
	}
}
