package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperjump/kioku/internal/models"
)

// PostgresSource reads posts from the blog's PostgreSQL database.
type PostgresSource struct {
	pool      *pgxpool.Pool
	published string
	getSQL    string
	listSQL   string
}

// NewPostgresSource connects to dsn and verifies the connection.
func NewPostgresSource(ctx context.Context, dsn string, cols Columns) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres source: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres source: %w", err)
	}
	return newPostgresSource(pool, cols), nil
}

func newPostgresSource(pool *pgxpool.Pool, cols Columns) *PostgresSource {
	cols = cols.withDefaults()
	quote := func(name string) string { return pgx.Identifier{name}.Sanitize() }
	ph := func(n int) string { return "$" + strconv.Itoa(n) }
	get, list := cols.queries(quote, ph, "::text")
	return &PostgresSource{pool: pool, published: cols.Published, getSQL: get, listSQL: list}
}

func (s *PostgresSource) GetDocument(ctx context.Context, id string) (*models.SourceDocument, error) {
	var d models.SourceDocument
	err := s.pool.QueryRow(ctx, s.getSQL, s.published, id).
		Scan(&d.ID, &d.Title, &d.Excerpt, &d.Body, &d.Eligible)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post %s: %w", id, err)
	}
	return &d, nil
}

func (s *PostgresSource) ListEligibleIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, s.listSQL, s.published)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return ids, nil
}

// Close releases the connection pool.
func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}
