package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/edurag/edurag/config"
)

// llamaCppProvider talks to a llama.cpp server's /completion endpoint.
// This is the default binding.
type llamaCppProvider struct {
	endpoint    string
	temperature float64
	client      *http.Client
}

type llamaCppRequest struct {
	Prompt      string  `json:"prompt"`
	NPredict    int     `json:"n_predict"`
	Temperature float64 `json:"temperature"`
}

type llamaCppResponse struct {
	Content string `json:"content"`
}

func NewLlamaCppProvider(cfg config.LLMConfig) Provider {
	return &llamaCppProvider{
		endpoint:    strings.TrimRight(cfg.URL, "/") + "/completion",
		temperature: cfg.Temperature,
		client: &http.Client{
			Timeout: 180 * time.Second,
		},
	}
}

func (p *llamaCppProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(llamaCppRequest{
		Prompt:      prompt,
		NPredict:    maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal llama.cpp request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create llama.cpp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call llama.cpp server: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read llama.cpp response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("llama.cpp server returned %s: %s", resp.Status, string(raw))
	}

	var parsed llamaCppResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode llama.cpp response %q: %w", string(raw), err)
	}
	return parsed.Content, nil
}

func (p *llamaCppProvider) Name() string { return "LlamaCpp" }

var _ Provider = (*llamaCppProvider)(nil)
