package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
)

const (
	reasonNoDocuments = "no indexed documents"
	reasonNoChunks    = "no indexed chunks"
)

// Stats returns index counts, the active dimension and backend, and the
// database's size on disk.
func (e *Engine) Stats(ctx context.Context) (*models.IndexStats, error) {
	store, err := e.reader(ctx)
	if err != nil {
		return nil, err
	}
	st, err := store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if size, err := store.DiskUsageBytes(); err != nil {
		e.logger.Debug("disk usage unavailable", zap.Error(err))
	} else {
		st.DiskUsageBytes = size
	}
	return st, nil
}

// Readiness reports whether the index can serve retrieval.
func (e *Engine) Readiness(ctx context.Context) (*models.Readiness, error) {
	store, err := e.reader(ctx)
	if err != nil {
		return nil, err
	}
	st, err := store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return ReadinessOf(st), nil
}

// ReadinessOf derives readiness from stats.
func ReadinessOf(st *models.IndexStats) *models.Readiness {
	switch {
	case st.IndexedDocuments == 0:
		return &models.Readiness{Reason: reasonNoDocuments}
	case st.TotalChunks == 0:
		return &models.Readiness{Reason: reasonNoChunks}
	}
	return &models.Readiness{Ready: true}
}
