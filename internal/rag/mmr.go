package rag

import (
	"math"

	"filechat/internal/store"
)

// rerankMMR selects topK results by maximal marginal relevance: each pick
// maximizes lambda*sim(query) - (1-lambda)*maxSim(already picked). Vectors
// come back from the store rather than being re-embedded.
func (r *Retriever) rerankMMR(queryVec []float32, results []store.SearchResult, topK int, lambda float64) ([]store.SearchResult, error) {
	ids := make([]int64, len(results))
	for i, res := range results {
		ids[i] = res.Chunk.ID
	}
	vectors, err := r.store.ChunkVectors(ids)
	if err != nil {
		return nil, err
	}

	relevance := make([]float64, len(results))
	for i, res := range results {
		relevance[i] = cosineSim(queryVec, vectors[res.Chunk.ID])
	}

	picked := make([]store.SearchResult, 0, topK)
	pickedVecs := make([][]float32, 0, topK)
	used := make([]bool, len(results))

	for len(picked) < topK {
		best := -1
		bestScore := math.Inf(-1)
		for i := range results {
			if used[i] {
				continue
			}
			penalty := 0.0
			for _, pv := range pickedVecs {
				if sim := cosineSim(vectors[results[i].Chunk.ID], pv); sim > penalty {
					penalty = sim
				}
			}
			score := lambda*relevance[i] - (1-lambda)*penalty
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		picked = append(picked, results[best])
		pickedVecs = append(pickedVecs, vectors[results[best].Chunk.ID])
	}
	return picked, nil
}

func cosineSim(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
