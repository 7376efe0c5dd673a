package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kioku/internal/fileid"
	"github.com/hyperjump/kioku/internal/models"
)

// FrontMatter is the YAML header of a Markdown post.
type FrontMatter struct {
	ID      string `yaml:"id"`
	Title   string `yaml:"title"`
	Excerpt string `yaml:"excerpt"`
	Draft   bool   `yaml:"draft"`
	// Published defaults to true; set false or leave a future date to hold a post back.
	Published *bool      `yaml:"published"`
	Date      *time.Time `yaml:"date"`
}

// FileSource serves Markdown posts with YAML front matter from a directory tree.
type FileSource struct {
	root   string
	now    func() time.Time
	logger *zap.Logger

	mu    sync.Mutex
	paths map[string]string // id -> path, refreshed on every scan
}

// FileSourceOption configures a FileSource.
type FileSourceOption func(*FileSource)

// WithLogger sets a logger for skipped or unreadable posts.
func WithLogger(l *zap.Logger) FileSourceOption {
	return func(s *FileSource) { s.logger = l }
}

// NewFileSource returns a source rooted at dir.
func NewFileSource(dir string, opts ...FileSourceOption) *FileSource {
	s := &FileSource{
		root:   filepath.Clean(dir),
		now:    time.Now,
		logger: zap.NewNop(),
		paths:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the posts directory.
func (s *FileSource) Root() string { return s.root }

// GetDocument scans for the post with the given id.
func (s *FileSource) GetDocument(ctx context.Context, id string) (*models.SourceDocument, error) {
	s.mu.Lock()
	path, ok := s.paths[id]
	s.mu.Unlock()
	if ok {
		doc, err := ReadPost(path)
		if err == nil && doc.ID == id {
			doc.Eligible = s.eligible(doc, path)
			return &doc.SourceDocument, nil
		}
	}
	docs, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if d.ID == id {
			return &d.SourceDocument, nil
		}
	}
	return nil, ErrNotFound
}

// ListEligibleIDs returns the ids of published, non-draft posts.
func (s *FileSource) ListEligibleIDs(ctx context.Context) ([]string, error) {
	docs, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Eligible {
			ids = append(ids, d.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// IDForPath returns the id the post at path is indexed under. A file that
// no longer exists maps to its slug.
func (s *FileSource) IDForPath(path string) string {
	if doc, err := ReadPost(path); err == nil {
		return doc.ID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.paths {
		if p == filepath.Clean(path) {
			return id
		}
	}
	return fileid.PostID(path)
}

func (s *FileSource) scan(ctx context.Context) ([]*Post, error) {
	var posts []*Post
	paths := make(map[string]string)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !fileid.IsPostFile(path) {
			return nil
		}
		post, err := ReadPost(path)
		if err != nil {
			s.logger.Warn("skipping unreadable post", zap.String("path", path), zap.Error(err))
			return nil
		}
		if prev, dup := paths[post.ID]; dup {
			s.logger.Warn("duplicate post id, keeping first",
				zap.String("id", post.ID), zap.String("kept", prev), zap.String("skipped", path))
			return nil
		}
		post.Eligible = s.eligible(post, path)
		paths[post.ID] = path
		posts = append(posts, post)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan posts: %w", err)
	}
	s.mu.Lock()
	s.paths = paths
	s.mu.Unlock()
	return posts, nil
}

func (s *FileSource) eligible(p *Post, path string) bool {
	if p.Meta.Draft {
		return false
	}
	if p.Meta.Published != nil && !*p.Meta.Published {
		return false
	}
	if p.Meta.Date != nil && p.Meta.Date.After(s.now()) {
		s.logger.Debug("post scheduled in the future", zap.String("path", path))
		return false
	}
	return true
}

// Post is a parsed Markdown file.
type Post struct {
	models.SourceDocument
	Meta FrontMatter
}

// ReadPost parses a Markdown file. The id comes from front matter, else the file slug.
func ReadPost(path string) (*Post, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meta, body, err := ParseFrontMatter(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	id := strings.TrimSpace(meta.ID)
	if id == "" {
		id = fileid.PostID(path)
	}
	return &Post{
		SourceDocument: models.SourceDocument{
			ID:      id,
			Title:   strings.TrimSpace(meta.Title),
			Excerpt: strings.TrimSpace(meta.Excerpt),
			Body:    body,
		},
		Meta: meta,
	}, nil
}

// ParseFrontMatter splits an optional leading "---" YAML block from the body.
func ParseFrontMatter(data []byte) (FrontMatter, string, error) {
	var meta FrontMatter
	text := strings.TrimPrefix(string(data), "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return meta, text, nil
	}
	rest := text[len("---\n"):]
	var header string
	switch {
	case strings.HasPrefix(rest, "---\n"):
		rest = rest[len("---\n"):]
	case rest == "---":
		rest = ""
	default:
		end := strings.Index(rest, "\n---\n")
		skip := len("\n---\n")
		if end < 0 && strings.HasSuffix(rest, "\n---") {
			end, skip = len(rest)-len("\n---"), len("\n---")
		}
		if end < 0 {
			return meta, "", fmt.Errorf("unterminated front matter")
		}
		header = rest[:end]
		rest = rest[end+skip:]
	}
	if err := yaml.Unmarshal([]byte(header), &meta); err != nil {
		return meta, "", fmt.Errorf("invalid front matter: %w", err)
	}
	return meta, rest, nil
}
