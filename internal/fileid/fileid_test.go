package fileid

import (
	"strings"
	"testing"
)

func TestPostID(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/blog/posts/hello-world.md", "hello-world"},
		{"/blog/posts/Hello World.md", "hello-world"},
		{"/blog/posts/2024_01_05__Release Notes!.markdown", "2024-01-05-release-notes"},
		{"posts/./café.md", "café"},
		{"/blog/posts/---.md/", "post-"},
	}
	for _, tt := range tests {
		got := PostID(tt.path)
		if tt.want == "post-" {
			if !strings.HasPrefix(got, hashPrefix) || len(got) != len(hashPrefix)+16 {
				t.Errorf("PostID(%q) = %q, want hash fallback", tt.path, got)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("PostID(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestPostID_deterministic(t *testing.T) {
	if PostID("/a/___.md") != PostID("/a/./___.md") {
		t.Error("cleaned paths should give the same fallback id")
	}
	if PostID("/a/___.md") == PostID("/b/___.md") {
		t.Error("different paths should give different fallback ids")
	}
}

func TestIsPostFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/p/a.md", true},
		{"/p/a.MD", true},
		{"/p/a.markdown", true},
		{"/p/.a.md", false},
		{"/p/a.txt", false},
		{"/p/a", false},
	}
	for _, tt := range tests {
		if got := IsPostFile(tt.path); got != tt.want {
			t.Errorf("IsPostFile(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
