package retrieval

import (
	"context"
	"testing"

	"github.com/edurag/edurag/vectorstore"
)

type stubDenseIndex struct {
	searchResults []vectorstore.Candidate
	pointsByChunk map[string]vectorstore.Candidate
	searchErr     error
}

func (s *stubDenseIndex) Search(ctx context.Context, vector []float32, topK, ef int) ([]vectorstore.Candidate, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.searchResults, nil
}

func (s *stubDenseIndex) GetPointsByChunkIDs(ctx context.Context, chunkIDs []string) (map[string]vectorstore.Candidate, error) {
	out := map[string]vectorstore.Candidate{}
	for _, id := range chunkIDs {
		if c, ok := s.pointsByChunk[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

var _ DenseIndex = (*stubDenseIndex)(nil)

func TestMergeAndDedupePreservesOrderAndUnion(t *testing.T) {
	dense := []vectorstore.Candidate{
		{ID: "p1", Vector: []float32{1}, Payload: map[string]any{"chunk_id": "A"}},
		{ID: "p2", Vector: []float32{1}, Payload: map[string]any{"chunk_id": "B"}},
	}
	lexIDs := []string{"B", "C"}
	index := &stubDenseIndex{
		pointsByChunk: map[string]vectorstore.Candidate{
			"C": {ID: "p3", Vector: []float32{0.5}, Payload: map[string]any{"chunk_id": "C"}},
		},
	}

	merged, err := MergeAndDedupe(context.Background(), dense, lexIDs, index)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	wantOrder := []string{"A", "B", "C"}
	if len(merged) != len(wantOrder) {
		t.Fatalf("expected %d candidates, got %d", len(wantOrder), len(merged))
	}
	for i, w := range wantOrder {
		if merged[i].ChunkID() != w {
			t.Fatalf("position %d: got %s, want %s", i, merged[i].ChunkID(), w)
		}
	}
}

func TestMergeAndDedupeHydratesMissingVectors(t *testing.T) {
	index := &stubDenseIndex{
		pointsByChunk: map[string]vectorstore.Candidate{
			"LEX-1": {ID: "p9", Vector: []float32{0.1, 0.2}, Payload: map[string]any{"chunk_id": "LEX-1"}},
		},
	}

	merged, err := MergeAndDedupe(context.Background(), nil, []string{"LEX-1", "LEX-2"}, index)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(merged))
	}
	if merged[0].Vector == nil {
		t.Fatal("hydratable candidate still has nil vector")
	}
	if merged[1].Vector != nil {
		t.Fatal("unknown candidate should remain vectorless")
	}
}
