package embedding

import (
	"context"
	"math"
	"sync"

	"github.com/hyperjump/kioku/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and offline runs. The
// same text always maps to the same vector. Its dimension can be changed at
// runtime to simulate a model swap, and FailWhen injects provider errors.
type MockEmbedder struct {
	mu         sync.Mutex
	dimensions int
	calls      int
	// FailWhen, if set, is consulted before every batch; a non-nil error is returned as-is.
	FailWhen func(texts []string) error
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic embedding based on the text hash.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, e, text)
}

// EmbedBatch embeds each text and counts one call per batch.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	dim := e.dimensions
	fail := e.FailWhen
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail != nil {
		if err := fail(texts); err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashVector(text, dim)
	}
	return out, nil
}

func hashVector(text string, dim int) []float32 {
	h := HashString(text)
	emb := make([]float32, dim)
	for i := range emb {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb
}

// SetDimensions changes the output size of subsequent calls.
func (e *MockEmbedder) SetDimensions(n int) {
	e.mu.Lock()
	e.dimensions = n
	e.mu.Unlock()
}

// Calls returns how many batches have been requested.
func (e *MockEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimensions
}

// Model names the deterministic hash model.
func (e *MockEmbedder) Model() string {
	return "mock-hash"
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
