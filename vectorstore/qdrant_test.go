package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestStore(handler http.Handler) (*QdrantStore, *httptest.Server) {
	server := httptest.NewServer(handler)
	store := NewQdrantStore(QdrantConfig{
		URL:        server.URL,
		Collection: "test",
		Timeout:    5 * time.Second,
	})
	return store, server
}

func TestSearchParsesCandidates(t *testing.T) {
	var gotReq map[string]any
	store, server := newTestStore(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/test/points/search" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(`{"result":[
			{"id":"p1","score":0.9,"payload":{"chunk_id":"TOPIC-1","title":"T1"},"vector":[0.1,0.2]},
			{"id":"p2","score":0.5,"payload":{"chunk_id":"TOPIC-2"}}
		]}`))
	}))
	defer server.Close()

	out, err := store.Search(context.Background(), []float32{1, 0}, 10, 200)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(out))
	}
	if out[0].ChunkID() != "TOPIC-1" || out[0].Score != 0.9 {
		t.Fatalf("first candidate = %+v", out[0])
	}
	if len(out[0].Vector) != 2 {
		t.Fatalf("vector = %v", out[0].Vector)
	}
	if out[1].Vector != nil {
		t.Fatal("vectorless point should stay nil")
	}

	params, ok := gotReq["params"].(map[string]any)
	if !ok || params["ef"].(float64) != 200 {
		t.Fatalf("ef param missing: %v", gotReq)
	}
}

func TestGetPointsByChunkIDsKeysByChunkID(t *testing.T) {
	store, server := newTestStore(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/test/points/scroll" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"result":{"points":[
			{"id":"p7","payload":{"chunk_id":"TOPIC-7"},"vector":[0.3]}
		]}}`))
	}))
	defer server.Close()

	out, err := store.GetPointsByChunkIDs(context.Background(), []string{"TOPIC-7"})
	if err != nil {
		t.Fatalf("scroll failed: %v", err)
	}
	c, ok := out["TOPIC-7"]
	if !ok {
		t.Fatalf("result keys = %v", out)
	}
	if c.ID != "p7" {
		t.Fatalf("candidate = %+v", c)
	}
}

func TestSearchErrorSurfaced(t *testing.T) {
	store, server := newTestStore(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := store.Search(context.Background(), []float32{1}, 10, 0); err == nil {
		t.Fatal("server error should surface")
	}
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	called := false
	store, server := newTestStore(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	if err := store.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("empty upsert failed: %v", err)
	}
	if called {
		t.Fatal("empty upsert should not hit the server")
	}
}
