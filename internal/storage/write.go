package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

// DocumentWrite is the complete replacement chunk set for one document.
type DocumentWrite struct {
	DocumentID string
	Checksum   string
	// Chunks must carry an Embedding each; all embeddings share one length.
	Chunks []*models.ChunkRecord
	// Model is recorded as informational metadata when set.
	Model string
}

// WriteDocumentIndex replaces a document's chunks and vectors and marks it
// indexed in one transaction. On failure the transaction is rolled back and
// the failure is recorded separately. A dimension mismatch is returned
// without recording anything so the caller can decide how to recover.
func (s *Store) WriteDocumentIndex(ctx context.Context, w *DocumentWrite) error {
	err := s.writeDocument(ctx, w)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDimensionMismatch) {
		return err
	}
	err = wrapBusy(err)
	if recErr := s.RecordFailure(context.WithoutCancel(ctx), w.DocumentID, w.Checksum, err.Error()); recErr != nil {
		s.logger.Error("failed to record index failure",
			zap.String("document_id", w.DocumentID), zap.Error(recErr))
		return fmt.Errorf("failed to write document index: %w (recording failure: %v)", err, recErr)
	}
	return fmt.Errorf("failed to write document index: %w", err)
}

func (s *Store) writeDocument(ctx context.Context, w *DocumentWrite) error {
	vecDim := 0
	if len(w.Chunks) > 0 {
		vecDim = len(w.Chunks[0].Embedding)
		if vecDim == 0 {
			return fmt.Errorf("chunk 0 of %s has no embedding", w.DocumentID)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	dim, err := readDimension(ctx, tx)
	if err != nil {
		return fmt.Errorf("failed to read dimension: %w", err)
	}
	if vecDim > 0 {
		switch {
		case dim == 0:
			if err := setMeta(ctx, tx, metaDimension, fmt.Sprint(vecDim)); err != nil {
				return fmt.Errorf("failed to persist dimension: %w", err)
			}
			if err := s.ensureVectorTable(ctx, tx, vecDim); err != nil {
				return fmt.Errorf("failed to create vector table: %w", err)
			}
			dim = vecDim
		case dim != vecDim:
			return &DimensionMismatchError{Stored: dim, Requested: vecDim}
		}
	}

	if err := s.deleteDocumentRows(ctx, tx, w.DocumentID, false); err != nil {
		return err
	}

	now := time.Now()
	if len(w.Chunks) > 0 {
		chunkStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO chunks (chunk_id, document_id, ordinal, content, token_count, checksum, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare chunk insert: %w", err)
		}
		defer chunkStmt.Close()
		vecStmt, err := tx.PrepareContext(ctx, s.vectorInsertSQL())
		if err != nil {
			return fmt.Errorf("failed to prepare vector insert: %w", err)
		}
		defer vecStmt.Close()

		for i, c := range w.Chunks {
			if len(c.Embedding) != dim {
				return fmt.Errorf("chunk %d of %s: vector length %d, index dimension %d",
					i, w.DocumentID, len(c.Embedding), dim)
			}
			if c.CreatedAt.IsZero() {
				c.CreatedAt = now
			}
			if _, err := chunkStmt.ExecContext(ctx, c.ID, w.DocumentID, c.Ordinal, c.Content,
				c.TokenCount, c.Checksum, c.CreatedAt.UnixMilli()); err != nil {
				return fmt.Errorf("failed to insert chunk %d: %w", c.Ordinal, err)
			}
			if _, err := vecStmt.ExecContext(ctx, s.vectorInsertArgs(c)...); err != nil {
				return fmt.Errorf("failed to insert vector %d: %w", c.Ordinal, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO document_index (document_id, status, last_indexed_at, last_error, checksum, chunk_count, updated_at)
		 VALUES (?, 'indexed', ?, NULL, ?, ?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET
			status = 'indexed',
			last_indexed_at = excluded.last_indexed_at,
			last_error = NULL,
			checksum = excluded.checksum,
			chunk_count = excluded.chunk_count,
			updated_at = excluded.updated_at`,
		w.DocumentID, now.UnixMilli(), w.Checksum, len(w.Chunks), now.UnixMilli()); err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if w.Model != "" {
		if err := setMeta(ctx, tx, metaModel, w.Model); err != nil {
			return fmt.Errorf("failed to record model: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.setDimension(dim)
	return nil
}

func (s *Store) vectorInsertSQL() string {
	if s.backend == BackendSQLiteVec {
		return `INSERT INTO chunk_vectors (chunk_id, embedding) VALUES (?, ?)`
	}
	return `INSERT INTO chunk_vectors (chunk_id, embedding, dimension) VALUES (?, ?, ?)`
}

func (s *Store) vectorInsertArgs(c *models.ChunkRecord) []any {
	blob := vector.EncodeEmbedding(c.Embedding)
	if s.backend == BackendSQLiteVec {
		return []any{c.ID, blob}
	}
	return []any{c.ID, blob, len(c.Embedding)}
}

// RecordFailure marks a document failed in its own transaction. Existing
// chunks stay in place and chunk_count keeps matching them.
func (s *Store) RecordFailure(ctx context.Context, documentID, checksum, message string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_index (document_id, status, last_error, checksum, chunk_count, updated_at)
		 VALUES (?, 'failed', ?, NULLIF(?, ''), (SELECT COUNT(*) FROM chunks WHERE document_id = ?), ?)
		 ON CONFLICT(document_id) DO UPDATE SET
			status = 'failed',
			last_error = excluded.last_error,
			chunk_count = excluded.chunk_count,
			updated_at = excluded.updated_at`,
		documentID, message, checksum, documentID, now)
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", wrapBusy(err))
	}
	return nil
}

// MarkQueued records that a document awaits indexing. Indexed records are
// left alone so an unchanged document still short-circuits on its checksum.
func (s *Store) MarkQueued(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_index (document_id, status, chunk_count, updated_at)
		 VALUES (?, 'queued', 0, ?)
		 ON CONFLICT(document_id) DO UPDATE SET
			status = 'queued',
			updated_at = excluded.updated_at
		 WHERE document_index.status = 'failed'`,
		documentID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to mark queued: %w", wrapBusy(err))
	}
	return nil
}

// DeleteDocumentIndex removes a document's vectors, chunks, and status row.
// Deleting an unknown document succeeds.
func (s *Store) DeleteDocumentIndex(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", wrapBusy(err))
	}
	defer tx.Rollback()
	if err := s.deleteDocumentRows(ctx, tx, documentID, true); err != nil {
		return wrapBusy(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", wrapBusy(err))
	}
	return nil
}

func (s *Store) deleteDocumentRows(ctx context.Context, tx *sql.Tx, documentID string, withStatus bool) error {
	hasVectors, err := s.vectorTableExists(ctx, tx)
	if err != nil {
		return err
	}
	if hasVectors {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunk_vectors WHERE chunk_id IN (SELECT chunk_id FROM chunks WHERE document_id = ?)`,
			documentID); err != nil {
			return fmt.Errorf("failed to delete vectors: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if withStatus {
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_index WHERE document_id = ?`, documentID); err != nil {
			return fmt.Errorf("failed to delete document status: %w", err)
		}
	}
	return nil
}

// vectorTableExists is false only for a sqlite-vec store that has not yet adopted a dimension.
func (s *Store) vectorTableExists(ctx context.Context, q queryer) (bool, error) {
	if s.backend != BackendSQLiteVec {
		return true, nil
	}
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE name = 'chunk_vectors'`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect schema: %w", err)
	}
	return n > 0, nil
}
