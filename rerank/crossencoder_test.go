package rerank

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edurag/edurag/database"
)

type fixedEmbedder struct {
	vectors map[string][]float32
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vectors[text], nil
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vectors[t]
	}
	return out, nil
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("identical vectors: %v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-9 {
		t.Fatalf("orthogonal vectors: %v", got)
	}
	if got := Cosine(nil, []float32{1}); got != 0 {
		t.Fatalf("nil vector: %v", got)
	}
	if got := Cosine([]float32{1}, []float32{1, 0}); got != 0 {
		t.Fatalf("mismatched length: %v", got)
	}
}

func TestBiEncoderFallbackRanksByCosine(t *testing.T) {
	embedder := &fixedEmbedder{vectors: map[string][]float32{
		"query":  {1, 0},
		"close":  {0.9, 0.1},
		"far":    {0, 1},
	}}
	ce := NewCrossEncoder("", embedder)

	docs := []database.Chunk{
		{ChunkID: "A", Text: "close"},
		{ChunkID: "B", Text: "far"},
	}
	scores, err := ce.Score(context.Background(), "query", docs)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if scores["A"] <= scores["B"] {
		t.Fatalf("expected A > B, got %v", scores)
	}
}

func TestPairEndpointScores(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string   `json:"query"`
			Documents []string `json:"documents"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		scores := make([]float64, len(req.Documents))
		for i := range scores {
			scores[i] = float64(len(req.Documents) - i)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"scores": scores})
	}))
	defer server.Close()

	ce := NewCrossEncoder(server.URL, &fixedEmbedder{})
	docs := []database.Chunk{
		{ChunkID: "A", Text: "first"},
		{ChunkID: "B", Text: "second"},
	}
	scores, err := ce.Score(context.Background(), "q", docs)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if scores["A"] != 2 || scores["B"] != 1 {
		t.Fatalf("scores = %v", scores)
	}
}

func TestPairEndpointMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"unexpected":true}`))
	}))
	defer server.Close()

	ce := NewCrossEncoder(server.URL, &fixedEmbedder{})
	if _, err := ce.Score(context.Background(), "q", []database.Chunk{{ChunkID: "A", Text: "x"}}); err == nil {
		t.Fatal("malformed rerank response should fail")
	}
}

func TestScoreEmptyDocs(t *testing.T) {
	ce := NewCrossEncoder("", &fixedEmbedder{})
	scores, err := ce.Score(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if len(scores) != 0 {
		t.Fatalf("scores = %v", scores)
	}
}
