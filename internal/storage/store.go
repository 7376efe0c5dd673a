// Package storage implements the SQLite-backed index store: document status,
// chunk text, chunk vectors, and index metadata in a single database file.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/vector"
)

// Backend selects how chunk vectors are stored and queried.
type Backend string

const (
	// BackendBuiltin stores vectors as BLOBs and ranks them with the vec_l2 Go function.
	BackendBuiltin Backend = "builtin"
	// BackendSQLiteVec stores vectors in a sqlite-vec vec0 virtual table.
	BackendSQLiteVec Backend = "sqlite-vec"
	// BackendAuto uses sqlite-vec when the library resolves and loads, builtin otherwise.
	BackendAuto Backend = "auto"
)

// DefaultBusyTimeout bounds how long a writer waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

var (
	// ErrDimensionMismatch is matched by every *DimensionMismatchError.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrBackendMismatch means the file was built for a different vector backend.
	ErrBackendMismatch = errors.New("vector backend mismatch")
	// ErrNotFound is returned when a document has no index record.
	ErrNotFound = errors.New("document index record not found")
	// ErrBusy means the busy timeout elapsed while waiting for the write lock.
	ErrBusy = errors.New("index store is busy")
)

// DimensionMismatchError reports a conflict between the persisted dimension
// and the one a caller asked for or tried to write.
type DimensionMismatchError struct {
	Stored    int
	Requested int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: index has %d, got %d", e.Stored, e.Requested)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// Options configures Open.
type Options struct {
	// ExpectedDimension is adopted when the store has none; zero accepts whatever is stored.
	ExpectedDimension int
	// AllowReset permits a destructive purge when ExpectedDimension conflicts.
	AllowReset  bool
	BusyTimeout time.Duration
	Backend     Backend
	// Resolver locates the sqlite-vec library for BackendSQLiteVec and BackendAuto.
	Resolver vector.ExtensionResolver
	Logger   *zap.Logger
}

// Store is one connection context to the index database.
type Store struct {
	db      *sql.DB
	path    string
	backend Backend
	logger  *zap.Logger

	mu        sync.RWMutex
	dimension int
}

// Open opens or creates the index database at path, creates the schema, and
// resolves the active dimension against opts.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}
	if opts.Backend == "" {
		opts.Backend = BackendBuiltin
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, backend, err := openDB(ctx, path, opts, logger)
	if err != nil {
		return nil, err
	}
	// One connection per context: each worker owns its own handle and SQLite
	// serializes writers across them.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, backend: backend, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.ensureMetadata(ctx, opts.ExpectedDimension, opts.AllowReset); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("index store opened",
		zap.String("path", path),
		zap.String("backend", string(backend)),
		zap.Int("dimension", s.Dimension()),
	)
	return s, nil
}

func openDB(ctx context.Context, path string, opts Options, logger *zap.Logger) (*sql.DB, Backend, error) {
	dsn := buildDSN(path, opts.BusyTimeout)
	if opts.Backend == BackendBuiltin {
		db, err := connect(ctx, DriverName, dsn)
		return db, BackendBuiltin, err
	}
	if opts.Resolver == nil {
		if opts.Backend == BackendAuto {
			db, err := connect(ctx, DriverName, dsn)
			return db, BackendBuiltin, err
		}
		return nil, "", fmt.Errorf("failed to open database: backend %s needs an extension resolver", opts.Backend)
	}

	db, err := openWithExtension(ctx, dsn, opts.Resolver)
	if err == nil {
		return db, BackendSQLiteVec, nil
	}
	if opts.Backend == BackendAuto {
		logger.Warn("sqlite-vec unavailable, using builtin vector backend", zap.Error(err))
		db, err := connect(ctx, DriverName, dsn)
		return db, BackendBuiltin, err
	}
	return nil, "", err
}

func openWithExtension(ctx context.Context, dsn string, resolver vector.ExtensionResolver) (*sql.DB, error) {
	libPath, err := resolver.Resolve()
	if err != nil {
		return nil, fmt.Errorf("failed to load vector extension: %w", err)
	}
	driverName, err := extensionDriver(libPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load vector extension: %w", err)
	}
	db, err := connect(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to load vector extension from %s: %w", libPath, err)
	}
	return db, nil
}

func connect(ctx context.Context, driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Backend returns the vector backend in use.
func (s *Store) Backend() Backend {
	return s.backend
}

// DB exposes the underlying handle for administrative queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dimension returns the last dimension this context observed; zero when unset.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

func (s *Store) setDimension(dim int) {
	s.mu.Lock()
	s.dimension = dim
	s.mu.Unlock()
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// wrapBusy maps SQLite lock contention onto ErrBusy.
func wrapBusy(err error) error {
	if err != nil && isBusy(err) {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}

// Opener opens independent store contexts against one database file.
type Opener struct {
	path string
	opts Options
}

// NewOpener returns an Opener whose contexts share opts apart from dimension and reset.
func NewOpener(path string, opts Options) *Opener {
	return &Opener{path: path, opts: opts}
}

// Open opens a new context. expectedDimension zero adopts the stored value.
func (o *Opener) Open(ctx context.Context, expectedDimension int, allowReset bool) (*Store, error) {
	opts := o.opts
	opts.ExpectedDimension = expectedDimension
	opts.AllowReset = allowReset
	return Open(ctx, o.path, opts)
}

// Path returns the database file path.
func (o *Opener) Path() string {
	return o.path
}
