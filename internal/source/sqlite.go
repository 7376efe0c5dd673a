package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

// SQLiteSource reads posts from the blog's own SQLite database, read-only.
type SQLiteSource struct {
	db        *sql.DB
	published string
	getSQL    string
	listSQL   string
}

// NewSQLiteSource opens path read-only.
func NewSQLiteSource(ctx context.Context, path string, cols Columns) (*SQLiteSource, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open(storage.DriverName, dsn+sep+"mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite source: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open sqlite source: %w", err)
	}
	return NewSQLiteSourceDB(db, cols), nil
}

// NewSQLiteSourceDB wraps an open handle.
func NewSQLiteSourceDB(db *sql.DB, cols Columns) *SQLiteSource {
	cols = cols.withDefaults()
	ph := func(int) string { return "?" }
	get, list := cols.queries(quoteIdent, ph, "")
	return &SQLiteSource{db: db, published: cols.Published, getSQL: get, listSQL: list}
}

func (s *SQLiteSource) GetDocument(ctx context.Context, id string) (*models.SourceDocument, error) {
	var d models.SourceDocument
	err := s.db.QueryRowContext(ctx, s.getSQL, s.published, id).
		Scan(&d.ID, &d.Title, &d.Excerpt, &d.Body, &d.Eligible)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post %s: %w", id, err)
	}
	return &d, nil
}

func (s *SQLiteSource) ListEligibleIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.listSQL, s.published)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
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

// Close closes the database handle.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}
