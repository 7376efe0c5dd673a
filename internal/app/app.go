// Package app wires the index components together from a loaded config.
package app

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/rebuild"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/source"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/internal/watcher"
)

// App holds initialized services.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Opener    *storage.Opener
	Embedder  embedding.Embedder
	Source    source.Source
	Indexer   *indexer.Indexer
	Scheduler *rebuild.Scheduler
	Engine    *search.Engine
}

// New builds every component from cfg. Configuration problems, including a
// disabled index or missing provider credentials, are reported before the
// index database is touched.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.RequireIndex(); err != nil {
		return nil, err
	}

	embedder, err := embedding.NewFromConfig(&cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}

	src, err := newSource(ctx, &cfg.Source, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize document source: %w", err)
	}

	opener := storage.NewOpener(cfg.Index.DatabasePath, storage.Options{
		Backend:     storage.Backend(cfg.Index.Backend),
		BusyTimeout: cfg.Index.BusyTimeout,
		Resolver:    vector.NewPathResolver(cfg.Index.ExtensionPath, cfg.Index.ExtensionDirs),
		Logger:      logger,
	})

	chunker := indexer.NewChunker(cfg.Chunking.MaxChars, cfg.Chunking.OverlapChars())
	idx := indexer.NewIndexer(opener, src, embedder, chunker,
		indexer.WithLogger(logger),
		indexer.WithTokenCounter(indexer.NewTokenCounter(cfg.Chunking.Tokenizer, logger)),
		indexer.WithMigration(cfg.Index.MigrationAllowed()),
	)
	scheduler := rebuild.New(idx, rebuild.Options{
		Workers:        cfg.Rebuild.Workers,
		ErrorCap:       cfg.Rebuild.ErrorCap,
		AllowMigration: cfg.Index.MigrationAllowed(),
		Logger:         logger,
	})

	// Queries repeat far more than passages, so only the search path caches.
	var queryEmbedder embedding.Embedder = embedder
	if cfg.Embedding.CacheSize > 0 {
		queryEmbedder = embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)
	}
	engine := search.NewEngine(opener, queryEmbedder,
		search.WithLogger(logger),
		search.WithDefaultTopK(cfg.Search.DefaultTopK),
	)

	logger.Info("index initialized",
		zap.String("database", cfg.Index.DatabasePath),
		zap.String("backend", cfg.Index.Backend),
		zap.String("source", cfg.Source.Type),
		zap.Int("target_dimension", idx.TargetDimension()))

	return &App{
		Config:    cfg,
		Logger:    logger,
		Opener:    opener,
		Embedder:  embedder,
		Source:    src,
		Indexer:   idx,
		Scheduler: scheduler,
		Engine:    engine,
	}, nil
}

func newSource(ctx context.Context, cfg *config.SourceConfig, logger *zap.Logger) (source.Source, error) {
	cols := source.Columns{
		Table:     cfg.Table,
		ID:        cfg.IDColumn,
		Title:     cfg.TitleColumn,
		Excerpt:   cfg.ExcerptColumn,
		Body:      cfg.BodyColumn,
		Status:    cfg.StatusColumn,
		Published: cfg.Published,
	}
	switch cfg.Type {
	case "files":
		return source.NewFileSource(cfg.Directory, source.WithLogger(logger)), nil
	case "postgres":
		return source.NewPostgresSource(ctx, cfg.DSN, cols)
	case "sqlite":
		return source.NewSQLiteSource(ctx, cfg.DSN, cols)
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}

// NewServer returns the HTTP surface over the app's components.
func (a *App) NewServer() *server.Server {
	return server.NewServer(a.Engine, a.Indexer, a.Scheduler, &a.Config.Server, a.Logger)
}

// NewWatcher returns a watcher that keeps the index in step with a file
// source, or nil when watching is off or the source is not a directory.
func (a *App) NewWatcher() *watcher.Watcher {
	files, ok := a.Source.(*source.FileSource)
	if !ok || !a.Config.Watch.Enabled {
		return nil
	}
	return watcher.New(files.Root(),
		func(path string) { a.reindexPath(files, path) },
		func(path string) { a.removePath(files, path) },
		watcher.WithDebounce(a.Config.Watch.Debounce),
		watcher.WithLogger(a.Logger),
	)
}

func (a *App) reindexPath(files *source.FileSource, path string) {
	ctx := context.Background()
	id := files.IDForPath(path)
	if err := a.Indexer.MarkQueued(ctx, id); err != nil {
		a.Logger.Warn("mark queued failed", zap.String("document_id", id), zap.Error(err))
	}
	res, err := a.Indexer.IndexDocument(ctx, id)
	if err != nil {
		a.Logger.Warn("watch index failed", zap.String("path", path), zap.String("document_id", id), zap.Error(err))
		return
	}
	a.Logger.Info("post reindexed", zap.String("document_id", id), zap.String("outcome", string(res.Outcome)))
}

func (a *App) removePath(files *source.FileSource, path string) {
	id := files.IDForPath(path)
	// The post may have moved to another file under the same id.
	res, err := a.Indexer.IndexDocument(context.Background(), id)
	if err != nil {
		a.Logger.Warn("watch remove failed", zap.String("path", path), zap.String("document_id", id), zap.Error(err))
		return
	}
	a.Logger.Info("post removed", zap.String("document_id", id), zap.String("outcome", string(res.Outcome)))
}

// Close releases the engine's read context, the provider, and the source.
func (a *App) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	keep(a.Engine.Close())
	keep(a.Embedder.Close())
	if c, ok := a.Source.(io.Closer); ok {
		keep(c.Close())
	}
	return first
}
