// Package source reads posts from the authoritative document store the index mirrors.
package source

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/hyperjump/kioku/internal/models"
)

// ErrNotFound is returned when the source has no document with the given id.
var ErrNotFound = errors.New("document not found")

// Source is the read side of the blog's document store.
type Source interface {
	// GetDocument returns the document or ErrNotFound.
	GetDocument(ctx context.Context, id string) (*models.SourceDocument, error)
	// ListEligibleIDs returns the ids of every published document.
	ListEligibleIDs(ctx context.Context) ([]string, error)
}

// MemorySource is an in-memory Source.
type MemorySource struct {
	mu   sync.RWMutex
	docs map[string]models.SourceDocument
}

// NewMemorySource returns a source holding copies of docs.
func NewMemorySource(docs ...*models.SourceDocument) *MemorySource {
	s := &MemorySource{docs: make(map[string]models.SourceDocument, len(docs))}
	for _, d := range docs {
		s.Put(d)
	}
	return s
}

// Put inserts or replaces a document.
func (s *MemorySource) Put(doc *models.SourceDocument) {
	s.mu.Lock()
	s.docs[doc.ID] = *doc
	s.mu.Unlock()
}

// Remove deletes a document.
func (s *MemorySource) Remove(id string) {
	s.mu.Lock()
	delete(s.docs, id)
	s.mu.Unlock()
}

func (s *MemorySource) GetDocument(ctx context.Context, id string) (*models.SourceDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *MemorySource) ListEligibleIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.docs))
	for id, d := range s.docs {
		if d.Eligible {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
