// Package indexer turns source documents into embedded chunks and keeps the
// index store in step with the source.
package indexer

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxChars = 1200
	DefaultOverlap  = 160
)

var blankLine = regexp.MustCompile(`\n[ \t]*\n`)

// Passage is one bounded piece of a document body.
type Passage struct {
	Ordinal int
	Text    string
	// Input is the text sent to the embedding provider.
	Input string
}

// Chunker splits document bodies into passages of at most maxChars runes.
// Paragraphs longer than maxChars are windowed with overlap runes shared
// between consecutive windows.
type Chunker struct {
	maxChars int
	overlap  int
}

// NewChunker creates a chunker; non-positive or inconsistent values fall back to defaults.
func NewChunker(maxChars, overlap int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = 0
		if DefaultOverlap < maxChars {
			overlap = DefaultOverlap
		}
	}
	return &Chunker{maxChars: maxChars, overlap: overlap}
}

// MaxChars returns the passage length bound in runes.
func (c *Chunker) MaxChars() int { return c.maxChars }

// Overlap returns the window overlap in runes.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits body into ordered passages. An empty body yields none.
func (c *Chunker) Chunk(title, excerpt, body string) []Passage {
	var pieces []string
	for _, para := range splitParagraphs(body) {
		pieces = append(pieces, c.window(para)...)
	}
	packed := c.pack(pieces)
	passages := make([]Passage, len(packed))
	for i, text := range packed {
		passages[i] = Passage{Ordinal: i, Text: text, Input: EmbeddingInput(title, excerpt, text)}
	}
	return passages
}

func splitParagraphs(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	var out []string
	for _, p := range blankLine.Split(body, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// window splits an oversized paragraph into maxChars windows advancing by maxChars-overlap.
func (c *Chunker) window(para string) []string {
	if utf8.RuneCountInString(para) <= c.maxChars {
		return []string{para}
	}
	runes := []rune(para)
	step := c.maxChars - c.overlap
	var out []string
	for start := 0; ; start += step {
		end := start + c.maxChars
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// pack joins adjacent pieces with a blank line while the result fits.
func (c *Chunker) pack(pieces []string) []string {
	var (
		out    []string
		cur    strings.Builder
		curLen int
	)
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if curLen > 0 && curLen+2+n <= c.maxChars {
			cur.WriteString("\n\n")
			cur.WriteString(p)
			curLen += 2 + n
			continue
		}
		if curLen > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
		cur.WriteString(p)
		curLen = n
	}
	if curLen > 0 {
		out = append(out, cur.String())
	}
	return out
}

// EmbeddingInput prefixes a passage with the document title and excerpt so
// vectors carry the document's identity. Empty parts are omitted.
func EmbeddingInput(title, excerpt, passage string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{title, excerpt, passage} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}
