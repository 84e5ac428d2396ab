package vector

import (
	"fmt"
	"math"
)

// Cosine returns the cosine similarity of a and b.
// Vectors of different lengths come from different spaces and are refused.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector: cannot compare %d-dim and %d-dim vectors", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("vector: cosine of zero vector")
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
