package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// QdrantStore is a minimal REST client to Qdrant. The collection holds
// unit-norm vectors under cosine distance; point ids are the deterministic
// UUIDs from PointID so upserts are idempotent.
type QdrantStore struct {
	url        string
	collection string
	client     *http.Client
}

type QdrantConfig struct {
	URL        string
	Collection string
	Timeout    time.Duration
}

func NewQdrantStore(cfg QdrantConfig) *QdrantStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &QdrantStore{
		url:        strings.TrimRight(cfg.URL, "/"),
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Point is a persisted (id, vector, payload) tuple.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// EnsureCollection creates the collection when missing.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/collections/%s", s.url, s.collection), nil)
	if err != nil {
		return fmt.Errorf("create collection check request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode < 300 {
			return nil
		}
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	return s.putJSON(ctx, fmt.Sprintf("%s/collections/%s", s.url, s.collection), body, nil)
}

// Upsert writes points with upsert semantics; same id overwrites.
func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	body := map[string]any{"points": points}
	url := fmt.Sprintf("%s/collections/%s/points?wait=true", s.url, s.collection)
	return s.putJSON(ctx, url, body, nil)
}

// Search returns the topK nearest points by cosine, with payload and
// vector populated. ef tunes HNSW recall at search time.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK, ef int) ([]Candidate, error) {
	if topK <= 0 {
		topK = 10
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  true,
	}
	if ef > 0 {
		req["params"] = map[string]any{"ef": ef}
	}

	var resp struct {
		Result []rawPoint `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", s.url, s.collection)
	if err := s.postJSON(ctx, url, req, &resp); err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, r.candidate())
	}
	return out, nil
}

// GetPoints fetches points by their deterministic point ids.
func (s *QdrantStore) GetPoints(ctx context.Context, ids []string) (map[string]Candidate, error) {
	if len(ids) == 0 {
		return map[string]Candidate{}, nil
	}
	req := map[string]any{
		"ids":          ids,
		"with_payload": true,
		"with_vector":  true,
	}

	var resp struct {
		Result []rawPoint `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points", s.url, s.collection)
	if err := s.postJSON(ctx, url, req, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]Candidate, len(resp.Result))
	for _, r := range resp.Result {
		c := r.candidate()
		out[c.ID] = c
	}
	return out, nil
}

// GetPointsByChunkIDs resolves points by the payload chunk_id field using
// the scroll API with a should-filter. The result is keyed by chunk id.
func (s *QdrantStore) GetPointsByChunkIDs(ctx context.Context, chunkIDs []string) (map[string]Candidate, error) {
	if len(chunkIDs) == 0 {
		return map[string]Candidate{}, nil
	}

	should := make([]map[string]any, 0, len(chunkIDs))
	for _, cid := range chunkIDs {
		should = append(should, map[string]any{
			"key":   "chunk_id",
			"match": map[string]any{"value": cid},
		})
	}
	req := map[string]any{
		"limit":        len(chunkIDs),
		"with_payload": true,
		"with_vector":  true,
		"filter":       map[string]any{"should": should},
	}

	var resp struct {
		Result struct {
			Points []rawPoint `json:"points"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/scroll", s.url, s.collection)
	if err := s.postJSON(ctx, url, req, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]Candidate, len(resp.Result.Points))
	for _, r := range resp.Result.Points {
		c := r.candidate()
		out[c.ChunkID()] = c
	}
	return out, nil
}

// Ping checks reachability, used by the gateway readiness probe.
func (s *QdrantStore) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/collections", nil)
	if err != nil {
		return fmt.Errorf("create qdrant ping request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant ping returned status %s", resp.Status)
	}
	return nil
}

type rawPoint struct {
	ID      any             `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
	Vector  json.RawMessage `json:"vector"`
}

func (r rawPoint) candidate() Candidate {
	c := Candidate{
		ID:      fmt.Sprintf("%v", r.ID),
		Score:   r.Score,
		Payload: r.Payload,
	}
	if len(r.Vector) > 0 {
		var vec []float32
		if err := json.Unmarshal(r.Vector, &vec); err == nil {
			c.Vector = vec
		}
	}
	return c
}

func (s *QdrantStore) putJSON(ctx context.Context, url string, body, out any) error {
	return s.doJSON(ctx, http.MethodPut, url, body, out)
}

func (s *QdrantStore) postJSON(ctx context.Context, url string, body, out any) error {
	return s.doJSON(ctx, http.MethodPost, url, body, out)
}

func (s *QdrantStore) doJSON(ctx context.Context, method, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal qdrant request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("call qdrant: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, string(raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return nil
}
