// Package models defines core data structures for source documents, index records, and search results.
package models

import "time"

// IndexStatus is the lifecycle state of a document's index record.
type IndexStatus string

const (
	StatusQueued  IndexStatus = "queued"
	StatusIndexed IndexStatus = "indexed"
	StatusFailed  IndexStatus = "failed"
)

// SourceDocument is a post as read from the authoritative document store.
type SourceDocument struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Excerpt  string `json:"excerpt,omitempty"`
	Body     string `json:"body"`
	Eligible bool   `json:"eligible"`
}

// DocumentIndexRecord is the per-document status row in the index store.
type DocumentIndexRecord struct {
	DocumentID    string      `json:"document_id" db:"document_id"`
	Status        IndexStatus `json:"status" db:"status"`
	LastIndexedAt *time.Time  `json:"last_indexed_at,omitempty" db:"last_indexed_at"`
	LastError     string      `json:"last_error,omitempty" db:"last_error"`
	Checksum      string      `json:"checksum,omitempty" db:"checksum"`
	ChunkCount    int         `json:"chunk_count" db:"chunk_count"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// ChunkRecord is one passage of a document, stored alongside its vector.
type ChunkRecord struct {
	ID         string    `json:"id" db:"chunk_id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Ordinal    int       `json:"ordinal" db:"ordinal"`
	Content    string    `json:"content" db:"content"`
	TokenCount int       `json:"token_count" db:"token_count"`
	Checksum   string    `json:"checksum" db:"checksum"`
	Embedding  []float32 `json:"-" db:"-"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
