package search

import (
	"testing"
)

func TestSnippet(t *testing.T) {
	if Snippet("short", 10) != "short" {
		t.Error("short string should be unchanged")
	}
	if got := Snippet("long text here", 4); got != "long..." {
		t.Errorf("got %s", got)
	}
	if Snippet("x", 0) != "x" {
		t.Error("maxRunes 0 should return as-is")
	}
	if got := Snippet("a\n\nb\tc", 0); got != "a b c" {
		t.Errorf("whitespace not flattened: %q", got)
	}
	if got := Snippet("日本語テキスト", 3); got != "日本語..." {
		t.Errorf("multibyte truncation: %q", got)
	}
}
