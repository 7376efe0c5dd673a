// Package search serves nearest-neighbour queries over the chunk index.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
)

var (
	// ErrIndexNotReady means the index has no indexed documents or chunks yet.
	ErrIndexNotReady = errors.New("index not yet built")
	// ErrEmptyQuery is returned for a blank text query.
	ErrEmptyQuery = errors.New("query is empty")
)

// NotReadyError carries the readiness reason; it matches ErrIndexNotReady.
type NotReadyError struct {
	Reason string
}

func (e *NotReadyError) Error() string {
	return ErrIndexNotReady.Error() + ": " + e.Reason
}

func (e *NotReadyError) Is(target error) bool {
	return target == ErrIndexNotReady
}

// Engine runs similarity search against the index store.
type Engine struct {
	opener      *storage.Opener
	embedder    embedding.Embedder
	defaultTopK int
	logger      *zap.Logger

	mu    sync.Mutex
	store *storage.Store
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for query timings.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithDefaultTopK sets the result count used when a request asks for none.
func WithDefaultTopK(k int) EngineOption {
	return func(e *Engine) { e.defaultTopK = models.ClampTopK(k) }
}

// NewEngine creates a search engine. The embedder is used for text queries only.
func NewEngine(opener *storage.Opener, embedder embedding.Embedder, opts ...EngineOption) *Engine {
	e := &Engine{
		opener:      opener,
		embedder:    embedder,
		defaultTopK: models.DefaultTopK,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// reader returns the engine's read context, opening it on first use.
func (e *Engine) reader(ctx context.Context) (*storage.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store != nil {
		return e.store, nil
	}
	s, err := e.opener.Open(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	e.store = s
	return s, nil
}

// Close releases the read context.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil
	}
	err := e.store.Close()
	e.store = nil
	return err
}

// SearchByVector returns up to k chunks nearest to query by ascending L2
// distance. k is clamped to [1, 100].
func (e *Engine) SearchByVector(ctx context.Context, query []float32, k int) ([]*models.SearchHit, error) {
	if len(query) == 0 || !vector.IsFinite(query) {
		return nil, embedding.ErrMalformedVector
	}
	store, err := e.reader(ctx)
	if err != nil {
		return nil, err
	}
	hits, err := store.SearchNearest(ctx, query, models.ClampTopK(k))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	return hits, nil
}

// SearchByText embeds query and searches with it. It fails with
// ErrIndexNotReady before calling the provider when the index is empty.
func (e *Engine) SearchByText(ctx context.Context, query string, k int) (*models.SearchResponse, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k == 0 {
		k = e.defaultTopK
	}
	k = models.ClampTopK(k)

	ready, err := e.Readiness(ctx)
	if err != nil {
		return nil, err
	}
	if !ready.Ready {
		return nil, &NotReadyError{Reason: ready.Reason}
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vec) == 0 || !vector.IsFinite(vec) {
		return nil, fmt.Errorf("failed to embed query: %w", embedding.ErrMalformedVector)
	}
	hits, err := e.SearchByVector(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	e.logger.Debug("search",
		zap.Int("top_k", k), zap.Int("hits", len(hits)), zap.Duration("elapsed", elapsed))
	return &models.SearchResponse{
		Query:     query,
		TopK:      k,
		Hits:      hits,
		QueryTime: elapsed.Milliseconds(),
	}, nil
}
