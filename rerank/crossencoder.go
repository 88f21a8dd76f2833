package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/edurag/edurag/database"
	"github.com/edurag/edurag/embeddings"
)

// CrossEncoder scores (query, document) pairs. When a pair-scoring
// endpoint is configured it is used for joint scoring; otherwise the
// bi-encoder cosine fallback applies. Scores are monotone in predicted
// relevance but not calibrated across calls; callers only sort on them.
type CrossEncoder struct {
	endpoint string
	embedder embeddings.Embedder
	client   *http.Client
}

func NewCrossEncoder(endpoint string, embedder embeddings.Embedder) *CrossEncoder {
	return &CrossEncoder{
		endpoint: strings.TrimRight(endpoint, "/"),
		embedder: embedder,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Score returns a relevance score per chunk id for the given query.
func (ce *CrossEncoder) Score(ctx context.Context, query string, docs []database.Chunk) (map[string]float64, error) {
	out := make(map[string]float64, len(docs))
	if len(docs) == 0 {
		return out, nil
	}

	if ce.endpoint == "" {
		return ce.scoreBiEncoder(ctx, query, docs)
	}
	return ce.scorePairEndpoint(ctx, query, docs)
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores  []float64 `json:"scores"`
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

func (ce *CrossEncoder) scorePairEndpoint(ctx context.Context, query string, docs []database.Chunk) (map[string]float64, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ce.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ce.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call rerank endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank endpoint returned %s: %s", resp.Status, string(raw))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	out := make(map[string]float64, len(docs))
	switch {
	case len(parsed.Scores) == len(docs):
		for i, d := range docs {
			out[d.ChunkID] = parsed.Scores[i]
		}
	case len(parsed.Results) > 0:
		for _, r := range parsed.Results {
			if r.Index >= 0 && r.Index < len(docs) {
				out[docs[r.Index].ChunkID] = r.Score
			}
		}
	default:
		return nil, fmt.Errorf("rerank endpoint returned no usable scores")
	}
	return out, nil
}

func (ce *CrossEncoder) scoreBiEncoder(ctx context.Context, query string, docs []database.Chunk) (map[string]float64, error) {
	qv, err := ce.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed rerank query: %w", err)
	}

	out := make(map[string]float64, len(docs))
	for _, d := range docs {
		dv, err := ce.embedder.Embed(ctx, d.Text)
		if err != nil {
			return nil, fmt.Errorf("embed rerank doc %s: %w", d.ChunkID, err)
		}
		out[d.ChunkID] = Cosine(qv, dv)
	}
	return out, nil
}

// Cosine computes cosine similarity, returning 0 for nil or mismatched
// vectors so absent embeddings score as neutral (0) instead of failing the
// rerank.
func Cosine(a, b []float32) float64 {
	if a == nil || b == nil || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
