// Package vector provides the embedding BLOB codec, distance math, and
// discovery of the optional sqlite-vec loadable extension.
package vector

import (
	"fmt"
	"math"
)

// L2Distance returns the Euclidean distance between a and b.
func L2Distance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector: dimension mismatch %d != %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Score maps a non-negative distance into (0, 1]; smaller distances score
// higher. A NaN distance comes from a corrupt vector and scores 0.
func Score(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	return 1 / (1 + math.Max(distance, 0))
}

// IsFinite reports whether every component is a finite number.
func IsFinite(x []float32) bool {
	for _, v := range x {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
