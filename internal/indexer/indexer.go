package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/source"
	"github.com/hyperjump/kioku/internal/storage"
)

var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("kioku:chunk"))

// DimensionConflictError means the provider returned vectors whose length
// differs from the store's dimension and this attempt may not migrate.
type DimensionConflictError struct {
	DocumentID string
	Stored     int
	Returned   int
}

func (e *DimensionConflictError) Error() string {
	return fmt.Sprintf("document %s: provider returned %d-dimensional vectors, index has %d",
		e.DocumentID, e.Returned, e.Stored)
}

func (e *DimensionConflictError) Is(target error) bool {
	return target == storage.ErrDimensionMismatch
}

// Indexer keeps one document's chunks in the index store in step with its source.
type Indexer struct {
	opener         *storage.Opener
	source         source.Source
	embedder       embedding.Embedder
	chunker        *Chunker
	tokens         TokenCounter
	allowMigration bool
	logger         *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for index outcomes.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithTokenCounter replaces the heuristic token estimate.
func WithTokenCounter(c TokenCounter) IndexerOption {
	return func(idx *Indexer) { idx.tokens = c }
}

// WithMigration lets an attempt reset the index when the provider's dimension changes.
func WithMigration(allow bool) IndexerOption {
	return func(idx *Indexer) { idx.allowMigration = allow }
}

// NewIndexer creates an indexer. chunker may be nil for default sizes.
func NewIndexer(opener *storage.Opener, src source.Source, embedder embedding.Embedder, chunker *Chunker, opts ...IndexerOption) *Indexer {
	if chunker == nil {
		chunker = NewChunker(DefaultMaxChars, DefaultOverlap)
	}
	idx := &Indexer{
		opener:   opener,
		source:   src,
		embedder: embedder,
		chunker:  chunker,
		tokens:   HeuristicCounter{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// TargetDimension is the dimension store contexts are opened at; zero when the provider decides.
func (idx *Indexer) TargetDimension() int {
	return idx.embedder.Dimensions()
}

// Opener returns the store opener the indexer writes through.
func (idx *Indexer) Opener() *storage.Opener {
	return idx.opener
}

// Source returns the document source.
func (idx *Indexer) Source() source.Source {
	return idx.source
}

// IndexDocument indexes one document through a fresh store context. A
// dimension conflict is retried once through IndexAnyDimension.
func (idx *Indexer) IndexDocument(ctx context.Context, id string) (*models.IndexResult, error) {
	store, err := idx.opener.Open(ctx, idx.TargetDimension(), false)
	if errors.Is(err, storage.ErrDimensionMismatch) {
		idx.logger.Info("index dimension differs from provider, retrying without expected dimension",
			zap.String("document_id", id), zap.Error(err))
		return idx.IndexAnyDimension(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	res, err := idx.Index(ctx, store, id)
	_ = store.Close()
	var conflict *DimensionConflictError
	if errors.As(err, &conflict) {
		return idx.IndexAnyDimension(ctx, id)
	}
	return res, err
}

// IndexAnyDimension indexes id through a context opened with no expected
// dimension. When migration is allowed the index is reset to the provider's
// dimension; otherwise the conflict is recorded as a failure and the index
// keeps its dimension.
func (idx *Indexer) IndexAnyDimension(ctx context.Context, id string) (*models.IndexResult, error) {
	store, err := idx.opener.Open(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	res, err := idx.index(ctx, store, id, idx.allowMigration)
	var conflict *DimensionConflictError
	if errors.As(err, &conflict) {
		return idx.fail(ctx, store, id, "", conflict)
	}
	return res, err
}

// Index runs one attempt against a caller-owned store context. Failures are
// recorded in the store and returned with an OutcomeFailed result. A
// *DimensionConflictError is returned with a nil result and nothing recorded.
func (idx *Indexer) Index(ctx context.Context, store *storage.Store, id string) (*models.IndexResult, error) {
	return idx.index(ctx, store, id, idx.allowMigration)
}

func (idx *Indexer) index(ctx context.Context, store *storage.Store, id string, allowMigration bool) (*models.IndexResult, error) {
	log := idx.logger.With(zap.String("document_id", id))

	doc, err := idx.source.GetDocument(ctx, id)
	switch {
	case errors.Is(err, source.ErrNotFound) || (err == nil && !doc.Eligible):
		if err := store.DeleteDocumentIndex(ctx, id); err != nil {
			return nil, fmt.Errorf("failed to delete document index: %w", err)
		}
		log.Debug("document removed from index")
		return &models.IndexResult{DocumentID: id, Outcome: models.OutcomeDeleted}, nil
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		return idx.fail(ctx, store, id, "", fmt.Errorf("failed to load document: %w", err))
	}

	sum := Checksum(doc)
	rec, err := store.GetDocumentRecord(ctx, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	target := idx.TargetDimension()
	sameDim := target == 0 || store.Dimension() == 0 || store.Dimension() == target
	if rec != nil && rec.Status == models.StatusIndexed && rec.Checksum == sum && sameDim {
		log.Debug("document unchanged")
		return &models.IndexResult{
			DocumentID: id,
			Outcome:    models.OutcomeUnchanged,
			ChunkCount: rec.ChunkCount,
			Dimension:  store.Dimension(),
		}, nil
	}

	passages := idx.chunker.Chunk(doc.Title, doc.Excerpt, doc.Body)
	chunks := make([]*models.ChunkRecord, len(passages))
	dim := 0
	if len(passages) > 0 {
		inputs := make([]string, len(passages))
		for i, p := range passages {
			inputs[i] = p.Input
		}
		vectors, err := idx.embedder.EmbedBatch(ctx, inputs)
		if err == nil {
			dim, err = embedding.ValidateBatch(vectors, len(inputs))
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return idx.fail(ctx, store, id, sum, fmt.Errorf("failed to generate embeddings: %w", err))
		}
		for i, p := range passages {
			chunks[i] = &models.ChunkRecord{
				ID:         ChunkID(id, p.Ordinal),
				DocumentID: id,
				Ordinal:    p.Ordinal,
				Content:    p.Text,
				TokenCount: idx.tokens.Count(p.Input),
				Checksum:   contentChecksum(p.Text),
				Embedding:  vectors[i],
			}
		}
	}

	migrated := false
	if dim > 0 {
		stored, err := store.CurrentDimension(ctx)
		if err != nil {
			return nil, err
		}
		if stored != 0 && stored != dim {
			if !allowMigration {
				return nil, &DimensionConflictError{DocumentID: id, Stored: stored, Returned: dim}
			}
			log.Warn("embedding dimension changed, resetting index",
				zap.Int("from", stored), zap.Int("to", dim))
			if err := store.Reset(ctx, dim); err != nil {
				return nil, err
			}
			migrated = true
		}
	}

	err = store.WriteDocumentIndex(ctx, &storage.DocumentWrite{
		DocumentID: id,
		Checksum:   sum,
		Chunks:     chunks,
		Model:      embedding.ModelName(idx.embedder),
	})
	var mismatch *storage.DimensionMismatchError
	if errors.As(err, &mismatch) {
		// Another writer adopted a different dimension between the check and the write.
		return nil, &DimensionConflictError{DocumentID: id, Stored: mismatch.Stored, Returned: mismatch.Requested}
	}
	if err != nil {
		log.Warn("document index failed", zap.Error(err))
		return &models.IndexResult{DocumentID: id, Outcome: models.OutcomeFailed, Error: err.Error(), Migrated: migrated}, err
	}
	log.Debug("document indexed", zap.Int("chunks", len(chunks)), zap.Int("dimension", dim))
	return &models.IndexResult{
		DocumentID: id,
		Outcome:    models.OutcomeIndexed,
		ChunkCount: len(chunks),
		Dimension:  store.Dimension(),
		Migrated:   migrated,
	}, nil
}

// fail records cause against id and reports it as a failed outcome.
func (idx *Indexer) fail(ctx context.Context, store *storage.Store, id, checksum string, cause error) (*models.IndexResult, error) {
	idx.logger.Warn("document index failed", zap.String("document_id", id), zap.Error(cause))
	if err := store.RecordFailure(context.WithoutCancel(ctx), id, checksum, cause.Error()); err != nil {
		return nil, fmt.Errorf("%w (recording failure: %v)", cause, err)
	}
	return &models.IndexResult{DocumentID: id, Outcome: models.OutcomeFailed, Error: cause.Error()}, cause
}

// DeleteDocument removes a document from the index, e.g. when it is unpublished.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	store, err := idx.opener.Open(ctx, 0, false)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.DeleteDocumentIndex(ctx, id); err != nil {
		return err
	}
	idx.logger.Debug("document deleted from index", zap.String("document_id", id))
	return nil
}

// MarkQueued records that id is waiting to be indexed.
func (idx *Indexer) MarkQueued(ctx context.Context, id string) error {
	store, err := idx.opener.Open(ctx, 0, false)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.MarkQueued(ctx, id)
}

// Checksum fingerprints the fields that feed the index.
func Checksum(doc *models.SourceDocument) string {
	h := sha256.New()
	h.Write([]byte(doc.Title))
	h.Write([]byte{0})
	h.Write([]byte(doc.Excerpt))
	h.Write([]byte{0})
	h.Write([]byte(doc.Body))
	return hex.EncodeToString(h.Sum(nil))
}

// ChunkID derives a stable chunk id from the document id and ordinal.
func ChunkID(documentID string, ordinal int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(documentID+"#"+strconv.Itoa(ordinal))).String()
}

func contentChecksum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
