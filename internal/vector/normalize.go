// Package vector holds the numeric helpers applied to every emitted embedding.
package vector

import (
	"fmt"
	"math"

	"github.com/nidhogg/embedgate/internal/embederr"
)

// Tolerance is the allowed deviation of a normalized vector's L2 norm from 1.
const Tolerance = 1e-6

// Normalize returns a unit-length copy of raw.
// It fails with a degenerate-vector error when raw is empty, has a NaN or
// infinite component, or has zero norm. raw is not modified.
func Normalize(raw []float32) ([]float32, error) {
	if len(raw) == 0 {
		return nil, embederr.DegenerateVector("empty vector")
	}

	var sumSquares float64
	for i, v := range raw {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, embederr.DegenerateVector(fmt.Sprintf("non-finite component at index %d", i))
		}
		sumSquares += f * f
	}
	if sumSquares == 0 {
		return nil, embederr.DegenerateVector("zero norm")
	}

	norm := math.Sqrt(sumSquares)
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(float64(v) / norm)
	}
	return out, nil
}

// CheckDims fails with a degenerate-vector error when v does not have exactly dims components.
func CheckDims(v []float32, dims int) error {
	if len(v) != dims {
		return embederr.DegenerateVector(fmt.Sprintf("got %d dimensions, want %d", len(v), dims))
	}
	return nil
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// IsUnit reports whether v is a finite vector of unit length within Tolerance.
func IsUnit(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return math.Abs(Norm(v)-1) <= Tolerance
}
