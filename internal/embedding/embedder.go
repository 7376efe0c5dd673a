// Package embedding converts text into vectors through pluggable providers
// and enforces the batch contract the indexer relies on.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/kioku/internal/vector"
)

// Embedder produces vector embeddings for text. EmbedBatch returns exactly
// one vector per input; the dimension may differ between calls.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is the expected output size, or 0 when the provider decides.
	Dimensions() int
	Close() error
}

var (
	ErrTimeout            = errors.New("embedding request timed out")
	ErrVectorCount        = errors.New("embedding provider returned the wrong number of vectors")
	ErrMixedDimensions    = errors.New("embedding provider returned vectors of differing dimensions")
	ErrMalformedVector    = errors.New("embedding provider returned a malformed vector")
	ErrMissingCredentials = errors.New("embedding provider credentials are not configured")
)

// ValidateBatch checks that vectors has want entries, each non-empty and
// finite, all of one length. It returns that length (0 for an empty batch).
func ValidateBatch(vectors [][]float32, want int) (int, error) {
	if len(vectors) != want {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrVectorCount, len(vectors), want)
	}
	dim := 0
	for i, v := range vectors {
		if len(v) == 0 || !vector.IsFinite(v) {
			return 0, fmt.Errorf("%w: vector %d", ErrMalformedVector, i)
		}
		if i == 0 {
			dim = len(v)
			continue
		}
		if len(v) != dim {
			return 0, fmt.Errorf("%w: vector %d has %d, vector 0 has %d", ErrMixedDimensions, i, len(v), dim)
		}
	}
	return dim, nil
}

// embedOne is the Embed implementation shared by batch-native providers.
func embedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if _, err := ValidateBatch(vectors, 1); err != nil {
		return nil, err
	}
	return vectors[0], nil
}
