package search

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/source"
	"github.com/hyperjump/kioku/internal/storage"
)

type fixture struct {
	engine *Engine
	idx    *indexer.Indexer
	src    *source.MemorySource
	mock   *embedding.MockEmbedder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	opener := storage.NewOpener(filepath.Join(t.TempDir(), "index.db"), storage.Options{})
	src := source.NewMemorySource()
	mock := embedding.NewMockEmbedder(16)
	f := &fixture{
		engine: NewEngine(opener, mock),
		idx:    indexer.NewIndexer(opener, src, mock, indexer.NewChunker(60, 10)),
		src:    src,
		mock:   mock,
	}
	t.Cleanup(func() { _ = f.engine.Close() })
	return f
}

func (f *fixture) index(t *testing.T, docs ...*models.SourceDocument) {
	t.Helper()
	for _, d := range docs {
		f.src.Put(d)
		_, err := f.idx.IndexDocument(context.Background(), d.ID)
		require.NoError(t, err)
	}
}

func doc(id, body string) *models.SourceDocument {
	return &models.SourceDocument{ID: id, Title: id, Body: body, Eligible: true}
}

func TestReadiness_EmptyIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.Readiness(ctx)
	require.NoError(t, err)
	assert.False(t, r.Ready)
	assert.Equal(t, "no indexed documents", r.Reason)

	_, err = f.engine.SearchByText(ctx, "anything", 5)
	require.ErrorIs(t, err, ErrIndexNotReady)
	assert.Contains(t, err.Error(), "no indexed documents")
	assert.Equal(t, 0, f.mock.Calls(), "not-ready check happens before the provider call")
}

func TestReadiness_NoChunks(t *testing.T) {
	f := newFixture(t)
	f.index(t, doc("empty", ""))

	r, err := f.engine.Readiness(context.Background())
	require.NoError(t, err)
	assert.False(t, r.Ready)
	assert.Equal(t, "no indexed chunks", r.Reason)
}

func TestSearchByText(t *testing.T) {
	f := newFixture(t)
	f.index(t,
		doc("go", "Goroutines are cheap.\n\nChannels connect them."),
		doc("rust", "Ownership rules memory.\n\nBorrowing is checked."),
		doc("sql", "Indexes speed lookups."),
	)
	ctx := context.Background()

	r, err := f.engine.Readiness(ctx)
	require.NoError(t, err)
	assert.True(t, r.Ready)
	assert.Empty(t, r.Reason)

	// The stored input for a one-passage document is "title\n\nbody".
	resp, err := f.engine.SearchByText(ctx, "sql\n\nIndexes speed lookups.", 3)
	require.NoError(t, err)
	require.Len(t, resp.Hits, 3)
	top := resp.Hits[0]
	assert.Equal(t, "sql", top.DocumentID)
	assert.Equal(t, 0, top.Ordinal)
	assert.InDelta(t, 0, top.Distance, 1e-6)
	assert.InDelta(t, 1, top.Score, 1e-6)

	for i, h := range resp.Hits {
		assert.Equal(t, i+1, h.Rank)
		assert.InDelta(t, 1/(1+math.Max(h.Distance, 0)), h.Score, 1e-9)
		assert.Greater(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, h.Distance, resp.Hits[i-1].Distance)
		}
	}
}

func TestSearchByText_ClampsK(t *testing.T) {
	f := newFixture(t)
	f.index(t, doc("a", "alpha"), doc("b", "beta"))
	ctx := context.Background()

	resp, err := f.engine.SearchByText(ctx, "alpha", 1000)
	require.NoError(t, err)
	assert.Equal(t, models.MaxTopK, resp.TopK)
	assert.Len(t, resp.Hits, 2)

	resp, err = f.engine.SearchByText(ctx, "alpha", -4)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TopK)
	assert.Len(t, resp.Hits, 1)

	resp, err = f.engine.SearchByText(ctx, "alpha", 0)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTopK, resp.TopK)
}

func TestSearchByText_BlankQuery(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SearchByText(context.Background(), "  \n ", 5)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchByVector_Errors(t *testing.T) {
	f := newFixture(t)
	f.index(t, doc("a", "alpha"))
	ctx := context.Background()

	_, err := f.engine.SearchByVector(ctx, make([]float32, 3), 5)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	bad := make([]float32, 16)
	bad[0] = float32(math.Inf(1))
	_, err = f.engine.SearchByVector(ctx, bad, 5)
	assert.ErrorIs(t, err, embedding.ErrMalformedVector)

	_, err = f.engine.SearchByVector(ctx, nil, 5)
	assert.ErrorIs(t, err, embedding.ErrMalformedVector)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.index(t, doc("a", "alpha"), doc("b", "beta\n\ngamma"))

	st, err := f.engine.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.TotalDocuments)
	assert.EqualValues(t, 2, st.IndexedDocuments)
	assert.EqualValues(t, 2, st.TotalChunks, "short paragraphs pack into one passage")
	assert.Equal(t, 16, st.Dimension)
	assert.Equal(t, "builtin", st.Backend)
	assert.Equal(t, "mock-hash", st.EmbeddingModel)
	assert.NotNil(t, st.LastIndexedAt)
	assert.Greater(t, st.DiskUsageBytes, int64(0))
}

func TestReadinessOf(t *testing.T) {
	assert.True(t, ReadinessOf(&models.IndexStats{IndexedDocuments: 1, TotalChunks: 1}).Ready)
	assert.Equal(t, "no indexed chunks", ReadinessOf(&models.IndexStats{IndexedDocuments: 1}).Reason)
	assert.Equal(t, "no indexed documents", ReadinessOf(&models.IndexStats{TotalChunks: 3}).Reason)
}
