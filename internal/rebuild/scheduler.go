// Package rebuild reconciles the whole index against the document source
// with a bounded pool of workers.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

const (
	DefaultWorkers  = 2
	MaxWorkers      = 8
	DefaultErrorCap = 20
)

// ErrRebuildInProgress is returned when a rebuild is requested while one runs.
var ErrRebuildInProgress = errors.New("rebuild already in progress")

// Options configures a Scheduler.
type Options struct {
	// Workers is clamped to [1, MaxWorkers]; zero selects DefaultWorkers.
	Workers int
	// ErrorCap bounds the per-document errors kept in a summary.
	ErrorCap int
	// AllowMigration lets the run reset the index once up front when the
	// provider's dimension differs from the stored one.
	AllowMigration bool
	Logger         *zap.Logger
}

// Scheduler runs at most one rebuild at a time.
type Scheduler struct {
	indexer        *indexer.Indexer
	workers        int
	errorCap       int
	allowMigration bool
	logger         *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	status  models.RebuildStatus
}

// New creates a scheduler over idx.
func New(idx *indexer.Indexer, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ErrorCap <= 0 {
		opts.ErrorCap = DefaultErrorCap
	}
	return &Scheduler{
		indexer:        idx,
		workers:        ClampWorkers(opts.Workers),
		errorCap:       opts.ErrorCap,
		allowMigration: opts.AllowMigration,
		logger:         opts.Logger,
	}
}

// ClampWorkers bounds n to [1, MaxWorkers]; zero selects DefaultWorkers.
func ClampWorkers(n int) int {
	switch {
	case n == 0:
		return DefaultWorkers
	case n < 1:
		return 1
	case n > MaxWorkers:
		return MaxWorkers
	}
	return n
}

// Workers returns the effective pool size.
func (s *Scheduler) Workers() int { return s.workers }

// Run performs a rebuild and waits for it. On cancellation the partial
// summary is returned together with the context error.
func (s *Scheduler) Run(ctx context.Context) (*models.RebuildSummary, error) {
	runCtx, runID, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := s.run(runCtx, runID)
	s.finish(summary, err)
	return summary, err
}

// Start launches a rebuild in the background and returns its run id. The
// run outlives ctx's cancellation; use Cancel to stop it.
func (s *Scheduler) Start(ctx context.Context) (string, error) {
	runCtx, runID, err := s.begin(context.WithoutCancel(ctx))
	if err != nil {
		return "", err
	}
	go func() {
		summary, err := s.run(runCtx, runID)
		s.finish(summary, err)
	}()
	return runID, nil
}

// Cancel stops the running rebuild. It reports whether one was running.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.cancel()
	return true
}

// Status returns a snapshot of the current or last run.
func (s *Scheduler) Status() models.RebuildStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Running = s.running
	return st
}

func (s *Scheduler) begin(parent context.Context) (context.Context, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, "", ErrRebuildInProgress
	}
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	s.running = true
	s.cancel = cancel
	s.status = models.RebuildStatus{RunID: uuid.NewString(), StartedAt: &now}
	return ctx, s.status.RunID, nil
}

func (s *Scheduler) finish(summary *models.RebuildSummary, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.running = false
	s.cancel()
	s.status.FinishedAt = &now
	s.status.Summary = summary
	if err != nil {
		s.status.Error = err.Error()
	}
}

// maxPasses bounds how often a run re-queues documents after the index was
// reset under it.
const maxPasses = 3

// tally collects the latest outcome per document. Every mid-run reset starts
// a new epoch; outcomes recorded in an earlier epoch no longer describe the
// index and their documents are indexed again.
type tally struct {
	mu       sync.Mutex
	epoch    int
	attempts map[string]attempt
}

type attempt struct {
	epoch int
	res   *models.IndexResult
	err   error
}

func newTally() *tally {
	return &tally{attempts: make(map[string]attempt)}
}

func (t *tally) currentEpoch() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}

// record stores the outcome of an attempt that began in epoch.
func (t *tally) record(id string, epoch int, res *models.IndexResult, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if res != nil && res.Migrated {
		t.epoch++
		epoch = t.epoch
	}
	prev, ok := t.attempts[id]
	if ok && prev.res != nil && prev.res.Outcome == models.OutcomeIndexed &&
		res != nil && res.Outcome == models.OutcomeUnchanged {
		// Written earlier in this run; the repeat only confirms it.
		res = prev.res
	}
	t.attempts[id] = attempt{epoch: epoch, res: res, err: err}
}

// stale returns the ids, in ids order, whose outcome predates the last reset.
func (t *tally) stale(ids []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, id := range ids {
		if a, ok := t.attempts[id]; ok && a.epoch < t.epoch {
			out = append(out, id)
		}
	}
	return out
}

// fill counts the final outcomes of ids into summary.
func (t *tally) fill(summary *models.RebuildSummary, ids []string, errorCap int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	addError := func(id, msg string) {
		if len(summary.Errors) < errorCap {
			summary.Errors = append(summary.Errors, models.DocumentError{DocumentID: id, Message: msg})
			return
		}
		summary.ErrorOverflow++
	}
	for _, id := range ids {
		a, ok := t.attempts[id]
		if !ok {
			continue
		}
		if a.res == nil {
			summary.Failed++
			addError(id, a.err.Error())
			continue
		}
		switch a.res.Outcome {
		case models.OutcomeIndexed:
			summary.Indexed++
		case models.OutcomeUnchanged:
			summary.Unchanged++
		case models.OutcomeDeleted:
			summary.Deleted++
		case models.OutcomeFailed:
			summary.Failed++
			msg := a.res.Error
			if msg == "" && a.err != nil {
				msg = a.err.Error()
			}
			addError(id, msg)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, runID string) (*models.RebuildSummary, error) {
	log := s.logger.With(zap.String("run_id", runID))
	start := time.Now()
	summary := &models.RebuildSummary{StartedAt: start, Errors: []models.DocumentError{}}
	t := newTally()
	var eligible []string
	finish := func(err error) (*models.RebuildSummary, error) {
		t.fill(summary, eligible, s.errorCap)
		summary.Duration = time.Since(start)
		return summary, err
	}

	opener := s.indexer.Opener()
	target := s.indexer.TargetDimension()
	control, err := opener.Open(ctx, target, s.allowMigration)
	if err != nil {
		return finish(fmt.Errorf("failed to open index: %w", err))
	}
	defer control.Close()

	eligible, err = s.indexer.Source().ListEligibleIDs(ctx)
	if err != nil {
		return finish(fmt.Errorf("failed to list eligible documents: %w", err))
	}
	summary.Eligible = len(eligible)
	known, err := control.ListDocumentIDs(ctx)
	if err != nil {
		return finish(fmt.Errorf("failed to list indexed documents: %w", err))
	}

	keep := make(map[string]struct{}, len(eligible))
	for _, id := range eligible {
		keep[id] = struct{}{}
	}
	for _, id := range known {
		if _, ok := keep[id]; ok {
			continue
		}
		if err := control.DeleteDocumentIndex(ctx, id); err != nil {
			return finish(fmt.Errorf("failed to delete stale document %s: %w", id, err))
		}
		summary.Deleted++
	}
	log.Info("rebuild started",
		zap.Int("eligible", len(eligible)),
		zap.Int("stale_deleted", summary.Deleted),
		zap.Int("workers", s.workers))

	queue := eligible
	for round := 1; ; round++ {
		err = s.pass(ctx, opener, queue, t)
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			break
		}
		queue = t.stale(eligible)
		if len(queue) == 0 {
			break
		}
		if round == maxPasses {
			log.Warn("index was reset again on the last pass, leaving documents unindexed",
				zap.Int("documents", len(queue)))
			break
		}
		log.Info("index was reset during the rebuild, re-queueing documents processed before it",
			zap.Int("documents", len(queue)))
	}

	summary, err = finish(err)
	fields := []zap.Field{
		zap.Int("indexed", summary.Indexed),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("deleted", summary.Deleted),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	}
	if err != nil {
		log.Warn("rebuild stopped", append(fields, zap.Error(err))...)
	} else {
		log.Info("rebuild finished", fields...)
	}
	return summary, err
}

// pass runs the worker pool once over ids.
func (s *Scheduler) pass(ctx context.Context, opener *storage.Opener, ids []string, t *tally) error {
	workers := s.workers
	if workers > len(ids) {
		workers = len(ids)
	}
	var cursor atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			return s.work(gctx, opener, ids, &cursor, t)
		})
	}
	return g.Wait()
}

// openWorker opens a context at the target dimension, or at the stored one
// when a document earlier in the run moved the index to the provider's
// actual dimension.
func (s *Scheduler) openWorker(ctx context.Context, opener *storage.Opener) (*storage.Store, error) {
	store, err := opener.Open(ctx, s.indexer.TargetDimension(), false)
	if errors.Is(err, storage.ErrDimensionMismatch) {
		return opener.Open(ctx, 0, false)
	}
	return store, err
}

// work pulls ids off the shared cursor until they run out or ctx ends.
// Only a failure to open a store context is returned as an error.
func (s *Scheduler) work(ctx context.Context, opener *storage.Opener, ids []string, cursor *atomic.Int64, t *tally) error {
	store, err := s.openWorker(ctx, opener)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to open worker context: %w", err)
	}
	defer func() {
		if store != nil {
			_ = store.Close()
		}
	}()

	for ctx.Err() == nil {
		i := int(cursor.Add(1)) - 1
		if i >= len(ids) {
			return nil
		}
		id := ids[i]
		epoch := t.currentEpoch()
		res, err := s.indexer.Index(ctx, store, id)

		var conflict *indexer.DimensionConflictError
		if !errors.As(err, &conflict) {
			s.record(ctx, t, id, epoch, res, err)
			continue
		}
		s.logger.Info("dimension conflict, indexing with a fresh context",
			zap.String("document_id", id), zap.Error(err))
		_ = store.Close()
		store = nil
		res, err = s.indexer.IndexAnyDimension(ctx, id)
		s.record(ctx, t, id, epoch, res, err)
		if store, err = opener.Open(ctx, 0, false); err != nil {
			store = nil
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to reopen worker context: %w", err)
		}
	}
	return nil
}

// record tallies one attempt; attempts cut short by cancellation are not counted.
func (s *Scheduler) record(ctx context.Context, t *tally, id string, epoch int, res *models.IndexResult, err error) {
	if res == nil && (err == nil || ctx.Err() != nil) {
		return
	}
	t.record(id, epoch, res, err)
}
