package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

const (
	metaDimension = "dimension"
	metaBackend   = "vector_backend"
	metaModel     = "embedding_model"
)

const baseSchema = `
	CREATE TABLE IF NOT EXISTS index_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS document_index (
		document_id TEXT PRIMARY KEY,
		status TEXT NOT NULL CHECK (status IN ('queued', 'indexed', 'failed')),
		last_indexed_at INTEGER,
		last_error TEXT,
		checksum TEXT,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_document_index_status ON document_index(status);

	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		content TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		checksum TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (document_id, ordinal)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
	`

const builtinVectorSchema = `
	CREATE TABLE IF NOT EXISTS chunk_vectors (
		chunk_id TEXT PRIMARY KEY,
		embedding BLOB NOT NULL,
		dimension INTEGER NOT NULL CHECK (length(embedding) = dimension * 4)
	);
	`

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, baseSchema); err != nil {
		return wrapBusy(err)
	}
	if s.backend == BackendBuiltin {
		if _, err := s.db.ExecContext(ctx, builtinVectorSchema); err != nil {
			return wrapBusy(err)
		}
	}
	return nil
}

// ensureVectorTable creates the vec0 table for dim. The builtin table is
// dimension-agnostic and always exists.
func (s *Store) ensureVectorTable(ctx context.Context, tx *sql.Tx, dim int) error {
	if s.backend != BackendSQLiteVec || dim <= 0 {
		return nil
	}
	ddl := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS chunk_vectors USING vec0(
		chunk_id TEXT PRIMARY KEY,
		embedding float[%d]
	)`, dim)
	_, err := tx.ExecContext(ctx, ddl)
	return err
}

// ensureMetadata resolves the active dimension. The first writer persists its
// dimension; later openers read and adopt it or fail on a conflict.
func (s *Store) ensureMetadata(ctx context.Context, expected int, allowReset bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin metadata transaction: %w", wrapBusy(err))
	}
	defer tx.Rollback()

	storedBackend, err := readMeta(ctx, tx, metaBackend)
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", wrapBusy(err))
	}
	dim, err := readDimension(ctx, tx)
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", wrapBusy(err))
	}

	switch {
	case storedBackend != "" && Backend(storedBackend) != s.backend:
		if !allowReset {
			return fmt.Errorf("%w: index built with %s, opened with %s", ErrBackendMismatch, storedBackend, s.backend)
		}
		target := expected
		if target == 0 {
			target = dim
		}
		s.logger.Warn("resetting index for vector backend change",
			zap.String("from", storedBackend), zap.String("to", string(s.backend)))
		if err := s.purge(ctx, tx, target); err != nil {
			return err
		}
		dim = target
	case dim == 0 && expected > 0:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO index_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
			metaDimension, strconv.Itoa(expected)); err != nil {
			return fmt.Errorf("failed to persist dimension: %w", wrapBusy(err))
		}
		if dim, err = readDimension(ctx, tx); err != nil {
			return fmt.Errorf("failed to read metadata: %w", wrapBusy(err))
		}
		if dim != expected {
			// A concurrent initializer persisted its dimension first.
			if !allowReset {
				return &DimensionMismatchError{Stored: dim, Requested: expected}
			}
			if err := s.purge(ctx, tx, expected); err != nil {
				return err
			}
			dim = expected
		}
	case dim > 0 && expected > 0 && dim != expected:
		if !allowReset {
			return &DimensionMismatchError{Stored: dim, Requested: expected}
		}
		s.logger.Warn("resetting index for dimension change",
			zap.Int("from", dim), zap.Int("to", expected))
		if err := s.purge(ctx, tx, expected); err != nil {
			return err
		}
		dim = expected
	}

	if err := setMeta(ctx, tx, metaBackend, string(s.backend)); err != nil {
		return fmt.Errorf("failed to persist backend: %w", wrapBusy(err))
	}
	if err := s.ensureVectorTable(ctx, tx, dim); err != nil {
		return fmt.Errorf("failed to create vector table: %w", wrapBusy(err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit metadata: %w", wrapBusy(err))
	}
	s.setDimension(dim)
	return nil
}

// Reset empties the index and adopts dim as the active dimension.
func (s *Store) Reset(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid dimension %d", dim)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reset: %w", wrapBusy(err))
	}
	defer tx.Rollback()
	if err := s.purge(ctx, tx, dim); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset: %w", wrapBusy(err))
	}
	s.setDimension(dim)
	s.logger.Info("index reset", zap.Int("dimension", dim))
	return nil
}

// purge is the only code path that deletes every document.
func (s *Store) purge(ctx context.Context, tx *sql.Tx, dim int) error {
	stmts := []string{
		`DROP TABLE IF EXISTS chunk_vectors`,
		`DELETE FROM chunks`,
		`DELETE FROM document_index`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to purge index: %w", wrapBusy(err))
		}
	}
	if s.backend == BackendBuiltin {
		if _, err := tx.ExecContext(ctx, builtinVectorSchema); err != nil {
			return fmt.Errorf("failed to recreate vector table: %w", err)
		}
	} else if err := s.ensureVectorTable(ctx, tx, dim); err != nil {
		return fmt.Errorf("failed to recreate vector table: %w", err)
	}
	if dim > 0 {
		if err := setMeta(ctx, tx, metaDimension, strconv.Itoa(dim)); err != nil {
			return fmt.Errorf("failed to persist dimension: %w", err)
		}
	} else if _, err := tx.ExecContext(ctx, `DELETE FROM index_meta WHERE key = ?`, metaDimension); err != nil {
		return fmt.Errorf("failed to clear dimension: %w", err)
	}
	return setMeta(ctx, tx, metaBackend, string(s.backend))
}

// CurrentDimension reads the persisted dimension; zero when none is set.
func (s *Store) CurrentDimension(ctx context.Context) (int, error) {
	dim, err := readDimension(ctx, s.db)
	if err != nil {
		return 0, fmt.Errorf("failed to read dimension: %w", wrapBusy(err))
	}
	s.setDimension(dim)
	return dim, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readMeta(ctx context.Context, q queryer, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func readDimension(ctx context.Context, q queryer) (int, error) {
	raw, err := readMeta(ctx, q, metaDimension)
	if err != nil || raw == "" {
		return 0, err
	}
	dim, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("corrupt dimension metadata %q: %w", raw, err)
	}
	return dim, nil
}

func setMeta(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO index_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
