package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBatch(t *testing.T) {
	nan := float32(math.NaN())
	tests := []struct {
		name    string
		vectors [][]float32
		want    int
		dim     int
		err     error
	}{
		{name: "ok", vectors: [][]float32{{1, 2}, {3, 4}}, want: 2, dim: 2},
		{name: "empty batch", vectors: [][]float32{}, want: 0, dim: 0},
		{name: "too few", vectors: [][]float32{{1}}, want: 2, err: ErrVectorCount},
		{name: "too many", vectors: [][]float32{{1}, {2}, {3}}, want: 2, err: ErrVectorCount},
		{name: "mixed", vectors: [][]float32{{1, 2}, {3}}, want: 2, err: ErrMixedDimensions},
		{name: "empty vector", vectors: [][]float32{{}}, want: 1, err: ErrMalformedVector},
		{name: "nan", vectors: [][]float32{{1, nan}}, want: 1, err: ErrMalformedVector},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dim, err := ValidateBatch(tt.vectors, tt.want)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dim, dim)
		})
	}
}

func TestMockEmbedder_deterministic(t *testing.T) {
	e := NewMockEmbedder(16)
	ctx := context.Background()
	a, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)
	c, err := e.Embed(ctx, "something else")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestMockEmbedder_failWhen(t *testing.T) {
	boom := errors.New("boom")
	e := NewMockEmbedder(4)
	e.FailWhen = func(texts []string) error {
		if texts[0] == "bad" {
			return boom
		}
		return nil
	}
	_, err := e.EmbedBatch(context.Background(), []string{"bad"})
	assert.ErrorIs(t, err, boom)
	_, err = e.EmbedBatch(context.Background(), []string{"good"})
	assert.NoError(t, err)
}

func TestModelName_unwraps(t *testing.T) {
	var e Embedder = NewMockEmbedder(4)
	e = NewTimeoutEmbedder(e, 0)
	e = NewRateLimitedEmbedder(e, 100, 1)
	e = NewCachedEmbedder(e, 4)
	assert.Equal(t, "mock-hash", ModelName(e))
}
