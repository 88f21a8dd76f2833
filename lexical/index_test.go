package lexical

import (
	"path/filepath"
	"testing"

	"github.com/edurag/edurag/database"
)

func corpus() []database.Chunk {
	return []database.Chunk{
		{ChunkID: "TOPIC-1", ChunkType: database.ChunkTypeTopic, Title: "Databases and SQL", Text: "Relational databases store rows in tables queried with SQL."},
		{ChunkID: "TOPIC-2", ChunkType: database.ChunkTypeTopic, Title: "Sorting", Text: "Sorting algorithms order elements by comparison."},
		{ChunkID: "CLASS-1", ChunkType: database.ChunkTypeClass, Title: "SQL joins", Text: "Inner joins combine rows from two tables on a key."},
	}
}

func TestRebuildAndSearch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	ix := NewIndex(dir)

	if err := ix.Rebuild(corpus()); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	ids, err := ix.Search("sql tables", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(ids) == 0 {
		t.Fatal("expected lexical hits for sql query")
	}
	found := false
	for _, id := range ids {
		if id == "TOPIC-1" || id == "CLASS-1" {
			found = true
		}
		if id == "TOPIC-2" && ids[0] == "TOPIC-2" {
			t.Fatal("off-topic chunk ranked first")
		}
	}
	if !found {
		t.Fatalf("sql chunks missing from hits: %v", ids)
	}
}

func TestSearchMissingIndexReturnsEmpty(t *testing.T) {
	ix := NewIndex(filepath.Join(t.TempDir(), "never-built"))
	ids, err := ix.Search("anything", 10)
	if err != nil {
		t.Fatalf("missing index must degrade silently, got %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no hits, got %v", ids)
	}
}

func TestRebuildReplacesIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	ix := NewIndex(dir)

	if err := ix.Rebuild(corpus()); err != nil {
		t.Fatalf("first rebuild failed: %v", err)
	}
	replacement := []database.Chunk{
		{ChunkID: "ONLY-1", ChunkType: database.ChunkTypeTopic, Title: "Graphs", Text: "Graph traversal with breadth first search."},
	}
	if err := ix.Rebuild(replacement); err != nil {
		t.Fatalf("second rebuild failed: %v", err)
	}

	ids, err := ix.Search("graph traversal", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "ONLY-1" {
		t.Fatalf("rebuilt index hits = %v", ids)
	}

	old, err := ix.Search("sql tables", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("old corpus still indexed: %v", old)
	}
}
