package memory

import "math"

// semanticBlendWeight is the fixed share of the cosine similarity in the
// blended rank score. Keeping it at 0.5 stops a highly similar but stale
// entry from dominating, and a fresh but irrelevant one from winning.
const semanticBlendWeight = 0.5

// Cosine computes the cosine similarity of two vectors. It fails closed:
// mismatched lengths or a zero-magnitude vector return exactly 0, which
// callers treat as "no boost" rather than an error.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

// blendScore combines a relevance score with a semantic similarity at the
// fixed 50/50 weighting.
func blendScore(relevance, similarity float64) float64 {
	return (1-semanticBlendWeight)*relevance + semanticBlendWeight*similarity
}
