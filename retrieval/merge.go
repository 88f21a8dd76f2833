package retrieval

import (
	"context"

	"github.com/edurag/edurag/vectorstore"
)

// MergeAndDedupe unions dense candidates with lexical chunk ids, keyed by
// chunk id in insertion order (dense first). Lexical-only entries start as
// vectorless shells; missing vectors and payloads are hydrated with one
// point fetch against the dense index.
func MergeAndDedupe(ctx context.Context, dense []vectorstore.Candidate, lexIDs []string, index DenseIndex) ([]vectorstore.Candidate, error) {
	order := make([]string, 0, len(dense)+len(lexIDs))
	byID := make(map[string]vectorstore.Candidate, len(dense)+len(lexIDs))

	for _, c := range dense {
		key := c.ChunkID()
		if _, ok := byID[key]; ok {
			continue
		}
		byID[key] = c
		order = append(order, key)
	}
	for _, id := range lexIDs {
		if _, ok := byID[id]; ok {
			continue
		}
		byID[id] = vectorstore.Candidate{ID: id}
		order = append(order, id)
	}

	var missing []string
	for _, key := range order {
		if byID[key].Vector == nil {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		fetched, err := index.GetPointsByChunkIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, key := range missing {
			if f, ok := fetched[key]; ok {
				c := byID[key]
				c.Vector = f.Vector
				c.Payload = f.Payload
				byID[key] = c
			}
		}
	}

	out := make([]vectorstore.Candidate, 0, len(order))
	for _, key := range order {
		out = append(out, byID[key])
	}
	return out, nil
}
