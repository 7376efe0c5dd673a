package models

import "time"

// Outcome is the terminal state of one index attempt.
type Outcome string

const (
	OutcomeIndexed   Outcome = "indexed"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeDeleted   Outcome = "deleted"
	OutcomeFailed    Outcome = "failed"
)

// IndexResult is returned by a single-document index attempt.
type IndexResult struct {
	DocumentID string  `json:"document_id"`
	Outcome    Outcome `json:"outcome"`
	ChunkCount int     `json:"chunk_count"`
	Dimension  int     `json:"dimension,omitempty"`
	Error      string  `json:"error,omitempty"`
	// Migrated is set when this attempt reset the index to a new dimension,
	// dropping every other document's chunks.
	Migrated bool `json:"migrated,omitempty"`
}

// SearchHit is one nearest-neighbour chunk.
type SearchHit struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Ordinal    int     `json:"ordinal"`
	Content    string  `json:"content"`
	Distance   float64 `json:"distance"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Query     string       `json:"query"`
	TopK      int          `json:"top_k"`
	Hits      []*SearchHit `json:"hits"`
	QueryTime int64        `json:"query_time_ms"`
}

// IndexStats summarizes index health.
type IndexStats struct {
	TotalDocuments   int64      `json:"total_documents"`
	IndexedDocuments int64      `json:"indexed_documents"`
	FailedDocuments  int64      `json:"failed_documents"`
	QueuedDocuments  int64      `json:"queued_documents"`
	TotalChunks      int64      `json:"total_chunks"`
	LastIndexedAt    *time.Time `json:"last_indexed_at,omitempty"`
	Dimension        int        `json:"dimension"`
	Backend          string     `json:"backend"`
	EmbeddingModel   string     `json:"embedding_model,omitempty"`
	DiskUsageBytes   int64      `json:"disk_usage_bytes,omitempty"`
}

// Ready reports whether the index can serve retrieval.
func (s *IndexStats) Ready() bool {
	return s.IndexedDocuments > 0 && s.TotalChunks > 0
}

// Readiness is the derived readiness signal for the answer-generation layer.
type Readiness struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

// DocumentError is one captured per-document failure in a rebuild.
type DocumentError struct {
	DocumentID string `json:"document_id"`
	Message    string `json:"message"`
}

// RebuildSummary aggregates the outcome of a full rebuild.
type RebuildSummary struct {
	Eligible      int             `json:"eligible"`
	Indexed       int             `json:"indexed"`
	Unchanged     int             `json:"unchanged"`
	Deleted       int             `json:"deleted"`
	Failed        int             `json:"failed"`
	Errors        []DocumentError `json:"errors"`
	ErrorOverflow int             `json:"error_overflow"`
	StartedAt     time.Time       `json:"started_at"`
	Duration      time.Duration   `json:"duration_ns"`
}

// RebuildStatus is a snapshot of the scheduler state.
type RebuildStatus struct {
	Running    bool            `json:"running"`
	RunID      string          `json:"run_id,omitempty"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Summary    *RebuildSummary `json:"summary,omitempty"`
	Error      string          `json:"error,omitempty"`
}
