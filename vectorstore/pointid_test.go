package vectorstore

import "testing"

// The point id layout is a cross-language contract; this vector pins the
// exact byte layout expected by every implementation.
const topicElevenPointID = "4fb7254c-aeba-3e25-9d34-c904efb9f595"

func TestPointIDFixedVector(t *testing.T) {
	if got := PointID("TOPIC-11"); got != topicElevenPointID {
		t.Fatalf("PointID(TOPIC-11) = %s, want %s", got, topicElevenPointID)
	}
}

func TestPointIDDeterministic(t *testing.T) {
	inputs := []string{"TOPIC-11", "COURSE-1", "CLASS-203", "", "sql-weird id with spaces"}
	for _, in := range inputs {
		first := PointID(in)
		if second := PointID(in); second != first {
			t.Fatalf("PointID(%q) not deterministic: %s vs %s", in, first, second)
		}
		if len(first) != 36 {
			t.Fatalf("PointID(%q) = %q, not a canonical UUID", in, first)
		}
	}
}

func TestPointIDVersionAndVariant(t *testing.T) {
	id := PointID("COURSE-1")
	if id[14] != '3' {
		t.Fatalf("expected version 3 UUID, got %s", id)
	}
	switch id[19] {
	case '8', '9', 'a', 'b':
	default:
		t.Fatalf("expected RFC-4122 variant, got %s", id)
	}
}

func TestCandidateChunkID(t *testing.T) {
	c := Candidate{ID: "point-uuid", Payload: map[string]any{"chunk_id": "TOPIC-3"}}
	if got := c.ChunkID(); got != "TOPIC-3" {
		t.Fatalf("ChunkID = %s, want TOPIC-3", got)
	}

	bare := Candidate{ID: "point-uuid"}
	if got := bare.ChunkID(); got != "point-uuid" {
		t.Fatalf("ChunkID fallback = %s, want point-uuid", got)
	}
}
