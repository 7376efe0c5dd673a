package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stallEmbedder blocks until release is closed, ignoring its context.
type stallEmbedder struct {
	release chan struct{}
}

func (s *stallEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, s, text)
}

func (s *stallEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	<-s.release
	return make([][]float32, len(texts)), nil
}

func (s *stallEmbedder) Dimensions() int { return 0 }
func (s *stallEmbedder) Close() error    { return nil }

func TestClampTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, ClampTimeout(0))
	assert.Equal(t, MinTimeout, ClampTimeout(10*time.Millisecond))
	assert.Equal(t, MaxTimeout, ClampTimeout(10*time.Minute))
	assert.Equal(t, 45*time.Second, ClampTimeout(45*time.Second))
	assert.Equal(t, 20*time.Second, NewTimeoutEmbedder(NewMockEmbedder(4), 0).Timeout())
}

func TestTimeoutEmbedder_abandonsStalledProvider(t *testing.T) {
	stall := &stallEmbedder{release: make(chan struct{})}
	defer close(stall.release)
	e := &TimeoutEmbedder{next: stall, timeout: 20 * time.Millisecond}

	start := time.Now()
	_, err := e.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "20ms")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTimeoutEmbedder_parentCancellationIsNotATimeout(t *testing.T) {
	stall := &stallEmbedder{release: make(chan struct{})}
	defer close(stall.release)
	e := &TimeoutEmbedder{next: stall, timeout: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.EmbedBatch(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestTimeoutEmbedder_passesThrough(t *testing.T) {
	e := NewTimeoutEmbedder(NewMockEmbedder(4), time.Second)
	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, 4, e.Dimensions())
}

func TestRateLimitedEmbedder_waits(t *testing.T) {
	mock := NewMockEmbedder(4)
	e := NewRateLimitedEmbedder(mock, 20, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := e.Embed(ctx, "x")
		require.NoError(t, err)
	}
	// Burst 1 at 20/s: the second and third calls wait ~50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 3, mock.Calls())
}

func TestRateLimitedEmbedder_cancelledWait(t *testing.T) {
	e := NewRateLimitedEmbedder(NewMockEmbedder(4), 0.001, 1)
	_, err := e.Embed(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = e.Embed(ctx, "second")
	assert.Error(t, err)
}
