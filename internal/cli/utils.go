// Package cli formats index results for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const snippetRunes = 200

const rule = "─────────────────────────────────────────────────────────"

// ParseFormat maps a flag value to a format; anything unknown is text.
func ParseFormat(s string) OutputFormat {
	if OutputFormat(s) == OutputJSON {
		return OutputJSON
	}
	return OutputText
}

// WriteSearchResults writes search hits to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d chunks in %dms (top_k %d)\n\n", len(response.Hits), response.QueryTime, response.TopK)
	for _, h := range response.Hits {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | Distance: %.4f\n", h.Rank, h.Score, h.Distance)
		fmt.Fprintf(w, "Document: %s (chunk %d)\n", h.DocumentID, h.Ordinal)
		fmt.Fprintf(w, "\n%s\n\n", search.Snippet(h.Content, snippetRunes))
	}
	return nil
}

// WriteStats writes index stats and the readiness derived from them.
func WriteStats(w io.Writer, st *models.IndexStats, format OutputFormat) error {
	ready := search.ReadinessOf(st)
	if format == OutputJSON {
		return writeJSON(w, struct {
			*models.IndexStats
			Readiness *models.Readiness `json:"readiness"`
		}{st, ready})
	}
	fmt.Fprintf(w, "Documents:  %d total, %d indexed, %d failed, %d queued\n",
		st.TotalDocuments, st.IndexedDocuments, st.FailedDocuments, st.QueuedDocuments)
	fmt.Fprintf(w, "Chunks:     %d\n", st.TotalChunks)
	fmt.Fprintf(w, "Dimension:  %d\n", st.Dimension)
	fmt.Fprintf(w, "Backend:    %s\n", st.Backend)
	if st.EmbeddingModel != "" {
		fmt.Fprintf(w, "Model:      %s\n", st.EmbeddingModel)
	}
	if st.LastIndexedAt != nil {
		fmt.Fprintf(w, "Last index: %s\n", st.LastIndexedAt.Format(time.RFC3339))
	}
	if st.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "Disk:       %s\n", FormatBytes(st.DiskUsageBytes))
	}
	if ready.Ready {
		fmt.Fprintln(w, "Ready:      yes")
	} else {
		fmt.Fprintf(w, "Ready:      no (%s)\n", ready.Reason)
	}
	return nil
}

// WriteRebuildSummary writes the outcome counts of a rebuild.
func WriteRebuildSummary(w io.Writer, s *models.RebuildSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "Rebuild finished in %s: %d eligible, %d indexed, %d unchanged, %d deleted, %d failed\n",
		s.Duration.Round(time.Millisecond), s.Eligible, s.Indexed, s.Unchanged, s.Deleted, s.Failed)
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  %s: %s\n", e.DocumentID, e.Message)
	}
	if s.ErrorOverflow > 0 {
		fmt.Fprintf(w, "  ... and %d more\n", s.ErrorOverflow)
	}
	return nil
}

// WriteIndexResult writes a single-document outcome.
func WriteIndexResult(w io.Writer, r *models.IndexResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	switch r.Outcome {
	case models.OutcomeIndexed:
		fmt.Fprintf(w, "%s: indexed %d chunks (dimension %d)\n", r.DocumentID, r.ChunkCount, r.Dimension)
	case models.OutcomeFailed:
		fmt.Fprintf(w, "%s: failed: %s\n", r.DocumentID, r.Error)
	default:
		fmt.Fprintf(w, "%s: %s\n", r.DocumentID, r.Outcome)
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
