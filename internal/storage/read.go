package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

// GetDocumentRecord returns the status row for documentID or ErrNotFound.
func (s *Store) GetDocumentRecord(ctx context.Context, documentID string) (*models.DocumentIndexRecord, error) {
	var (
		rec        models.DocumentIndexRecord
		status     string
		lastIdx    sql.NullInt64
		lastErr    sql.NullString
		checksum   sql.NullString
		updatedAtM int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT document_id, status, last_indexed_at, last_error, checksum, chunk_count, updated_at
		 FROM document_index WHERE document_id = ?`, documentID,
	).Scan(&rec.DocumentID, &status, &lastIdx, &lastErr, &checksum, &rec.ChunkCount, &updatedAtM)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document record: %w", wrapBusy(err))
	}
	rec.Status = models.IndexStatus(status)
	rec.LastIndexedAt = fromMillis(lastIdx)
	rec.LastError = lastErr.String
	rec.Checksum = checksum.String
	rec.UpdatedAt = time.UnixMilli(updatedAtM)
	return &rec, nil
}

// ListDocumentIDs returns every document id that has a status row.
func (s *Store) ListDocumentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document_id FROM document_index ORDER BY document_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", wrapBusy(err))
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetChunksByDocumentID returns a document's chunks with their vectors, by ordinal.
func (s *Store) GetChunksByDocumentID(ctx context.Context, documentID string) ([]*models.ChunkRecord, error) {
	hasVectors, err := s.vectorTableExists(ctx, s.db)
	if err != nil {
		return nil, err
	}
	query := `SELECT c.chunk_id, c.document_id, c.ordinal, c.content, c.token_count, c.checksum, c.created_at, NULL
		 FROM chunks c WHERE c.document_id = ? ORDER BY c.ordinal`
	if hasVectors {
		query = `SELECT c.chunk_id, c.document_id, c.ordinal, c.content, c.token_count, c.checksum, c.created_at, v.embedding
		 FROM chunks c LEFT JOIN chunk_vectors v ON v.chunk_id = c.chunk_id
		 WHERE c.document_id = ? ORDER BY c.ordinal`
	}
	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", wrapBusy(err))
	}
	defer rows.Close()

	var chunks []*models.ChunkRecord
	for rows.Next() {
		var (
			c        models.ChunkRecord
			created  int64
			embedded []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Content, &c.TokenCount,
			&c.Checksum, &created, &embedded); err != nil {
			return nil, err
		}
		c.CreatedAt = time.UnixMilli(created)
		if len(embedded) > 0 {
			if c.Embedding, err = vector.DecodeEmbedding(embedded); err != nil {
				return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
			}
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// Stats returns aggregate counts in a single statement so they are mutually consistent.
func (s *Store) Stats(ctx context.Context) (*models.IndexStats, error) {
	var (
		st      models.IndexStats
		lastIdx sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'indexed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'queued' THEN 1 ELSE 0 END), 0),
			MAX(last_indexed_at),
			(SELECT COUNT(*) FROM chunks)
		 FROM document_index`,
	).Scan(&st.TotalDocuments, &st.IndexedDocuments, &st.FailedDocuments, &st.QueuedDocuments,
		&lastIdx, &st.TotalChunks)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", wrapBusy(err))
	}
	st.LastIndexedAt = fromMillis(lastIdx)
	if st.Dimension, err = s.CurrentDimension(ctx); err != nil {
		return nil, err
	}
	if st.EmbeddingModel, err = readMeta(ctx, s.db, metaModel); err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", wrapBusy(err))
	}
	st.Backend = string(s.backend)
	return &st, nil
}

// SearchNearest returns up to k chunks ordered by ascending L2 distance to query.
// An index without a dimension yields no hits.
func (s *Store) SearchNearest(ctx context.Context, query []float32, k int) ([]*models.SearchHit, error) {
	if k <= 0 {
		return nil, nil
	}
	dim, err := s.CurrentDimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return []*models.SearchHit{}, nil
	}
	if len(query) != dim {
		return nil, &DimensionMismatchError{Stored: dim, Requested: len(query)}
	}

	blob := vector.EncodeEmbedding(query)
	var rows *sql.Rows
	if s.backend == BackendSQLiteVec {
		rows, err = s.db.QueryContext(ctx,
			`SELECT c.chunk_id, c.document_id, c.ordinal, c.content, knn.distance
			 FROM (SELECT chunk_id, distance FROM chunk_vectors WHERE embedding MATCH ? AND k = ?) AS knn
			 JOIN chunks c ON c.chunk_id = knn.chunk_id
			 ORDER BY knn.distance ASC, c.chunk_id ASC`, blob, k)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT c.chunk_id, c.document_id, c.ordinal, c.content, vec_l2(v.embedding, ?) AS distance
			 FROM chunk_vectors v
			 JOIN chunks c ON c.chunk_id = v.chunk_id
			 ORDER BY distance ASC, c.chunk_id ASC
			 LIMIT ?`, blob, k)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", wrapBusy(err))
	}
	defer rows.Close()

	hits := make([]*models.SearchHit, 0, k)
	for rows.Next() {
		var h models.SearchHit
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.Ordinal, &h.Content, &h.Distance); err != nil {
			return nil, err
		}
		h.Score = vector.Score(h.Distance)
		h.Rank = len(hits) + 1
		hits = append(hits, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	return hits, nil
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
