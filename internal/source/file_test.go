package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePost(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseFrontMatter(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		title   string
		body    string
		wantErr bool
	}{
		{name: "none", in: "just text", body: "just text"},
		{name: "full", in: "---\ntitle: Hello\nexcerpt: Short\n---\nBody here\n", title: "Hello", body: "Body here\n"},
		{name: "crlf", in: "---\r\ntitle: Hi\r\n---\r\nBody", title: "Hi", body: "Body"},
		{name: "empty header", in: "---\n---\nBody", body: "Body"},
		{name: "no body", in: "---\ntitle: T\n---", title: "T", body: ""},
		{name: "unterminated", in: "---\ntitle: T\nBody", wantErr: true},
		{name: "bad yaml", in: "---\ntitle: [\n---\nBody", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, body, err := ParseFrontMatter([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.title, meta.Title)
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	writePost(t, dir, "hello-world.md", "---\ntitle: Hello World\nexcerpt: A greeting\n---\nFirst post.")
	writePost(t, dir, "2024/custom.md", "---\nid: custom-id\ntitle: Custom\n---\nBody.")
	writePost(t, dir, "draft.md", "---\ntitle: Draft\ndraft: true\n---\nWIP.")
	writePost(t, dir, "hidden.md", "---\ntitle: Hidden\npublished: false\n---\nNope.")
	writePost(t, dir, "future.md", "---\ntitle: Future\ndate: 2999-01-01T00:00:00Z\n---\nLater.")
	writePost(t, dir, "notes.txt", "not a post")

	src := NewFileSource(dir)
	ctx := context.Background()

	ids, err := src.ListEligibleIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"custom-id", "hello-world"}, ids)

	doc, err := src.GetDocument(ctx, "hello-world")
	require.NoError(t, err)
	assert.Equal(t, "Hello World", doc.Title)
	assert.Equal(t, "A greeting", doc.Excerpt)
	assert.Equal(t, "First post.", doc.Body)
	assert.True(t, doc.Eligible)

	draft, err := src.GetDocument(ctx, "draft")
	require.NoError(t, err)
	assert.False(t, draft.Eligible)

	_, err = src.GetDocument(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileSource_futureDateBecomesEligible(t *testing.T) {
	dir := t.TempDir()
	writePost(t, dir, "soon.md", "---\ntitle: Soon\ndate: 2030-06-01T00:00:00Z\n---\nBody")
	src := NewFileSource(dir)
	src.now = func() time.Time { return time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC) }

	ids, err := src.ListEligibleIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"soon"}, ids)
}

func TestFileSource_IDForPath(t *testing.T) {
	dir := t.TempDir()
	path := writePost(t, dir, "some-file.md", "---\nid: stable\n---\nBody")
	src := NewFileSource(dir)
	_, err := src.ListEligibleIDs(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "stable", src.IDForPath(path))
	require.NoError(t, os.Remove(path))
	assert.Equal(t, "stable", src.IDForPath(path), "removed file maps through the last scan")
	assert.Equal(t, "never-seen", src.IDForPath(filepath.Join(dir, "never-seen.md")))
}

func TestFileSource_editIsPickedUp(t *testing.T) {
	dir := t.TempDir()
	path := writePost(t, dir, "post.md", "---\ntitle: One\n---\nv1")
	src := NewFileSource(dir)
	ctx := context.Background()

	doc, err := src.GetDocument(ctx, "post")
	require.NoError(t, err)
	assert.Equal(t, "v1", doc.Body)

	require.NoError(t, os.WriteFile(path, []byte("---\ntitle: One\n---\nv2"), 0644))
	doc, err = src.GetDocument(ctx, "post")
	require.NoError(t, err)
	assert.Equal(t, "v2", doc.Body)
}
