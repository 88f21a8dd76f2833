package retrieval

import (
	"github.com/edurag/edurag/rerank"
	"github.com/edurag/edurag/vectorstore"
)

// MMR greedily diversifies candidates: the seed is the candidate most
// similar to the query; each following pick maximizes
// lambda*sim(c,q) - (1-lambda)*max sim(c, selected). Ties keep the first
// occurrence, and candidates without vectors contribute zero similarity.
func MMR(candidates []vectorstore.Candidate, queryVector []float32, k int, lambda float64) []vectorstore.Candidate {
	if len(candidates) == 0 || k <= 0 {
		return nil
	}

	n := len(candidates)
	selected := make([]bool, n)
	simQuery := make([]float64, n)
	for i := range candidates {
		simQuery[i] = rerank.Cosine(queryVector, candidates[i].Vector)
	}

	result := make([]vectorstore.Candidate, 0, min(k, n))
	first := 0
	for i := 1; i < n; i++ {
		if simQuery[i] > simQuery[first] {
			first = i
		}
	}
	result = append(result, candidates[first])
	selected[first] = true

	for len(result) < min(k, n) {
		bestScore := negInf
		bestIdx := -1
		for i := 0; i < n; i++ {
			if selected[i] {
				continue
			}
			maxSimSelected := negInf
			for _, s := range result {
				sim := rerank.Cosine(candidates[i].Vector, s.Vector)
				if sim > maxSimSelected {
					maxSimSelected = sim
				}
			}
			if maxSimSelected == negInf {
				maxSimSelected = 0
			}
			score := lambda*simQuery[i] - (1-lambda)*maxSimSelected
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		selected[bestIdx] = true
		result = append(result, candidates[bestIdx])
	}
	return result
}

const negInf = -1e308

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
