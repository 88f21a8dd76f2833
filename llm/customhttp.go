package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/edurag/edurag/config"
)

// customHTTPProvider targets an operator-supplied completion endpoint.
// The response may carry the generated text under any of the common field
// names; the first present one wins.
type customHTTPProvider struct {
	endpoint    string
	apiKey      string
	temperature float64
	client      *http.Client
}

type customHTTPRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

func NewCustomHTTPProvider(cfg config.LLMConfig) Provider {
	return &customHTTPProvider{
		endpoint:    cfg.URL,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		client: &http.Client{
			Timeout: 180 * time.Second,
		},
	}
}

func (p *customHTTPProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(customHTTPRequest{
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal custom llm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create custom llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call custom llm: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read custom llm response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("custom llm returned %s: %s", resp.Status, string(raw))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("decode custom llm response %q: %w", string(raw), err)
	}

	for _, key := range []string{"text", "content", "response", "output", "generated_text"} {
		if v, ok := fields[key]; ok {
			var text string
			if err := json.Unmarshal(v, &text); err != nil {
				return "", fmt.Errorf("decode custom llm field %q in %q: %w", key, string(raw), err)
			}
			return text, nil
		}
	}
	return "", fmt.Errorf("unknown response format from custom llm: %s", string(raw))
}

func (p *customHTTPProvider) Name() string { return "CustomHttp" }

var _ Provider = (*customHTTPProvider)(nil)
