package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("Hello world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths = %d/%d/%d", len(ids), len(attn), len(types))
	}
	if ids[0] != tokenCLS || ids[3] != tokenSEP {
		t.Errorf("ids = %v", ids)
	}
	if attn[3] != 1 || attn[4] != 0 {
		t.Errorf("attention = %v", attn)
	}
	lower, _, _ := tok.Tokenize("hello WORLD", 10)
	if lower[1] != ids[1] || lower[2] != ids[2] {
		t.Error("tokenization should be case-insensitive")
	}
}

func TestSimpleTokenizer_Truncates(t *testing.T) {
	ids, _, _ := (&SimpleTokenizer{}).Tokenize("a b c d e f g h", 5)
	if ids[4] != tokenSEP {
		t.Errorf("last id = %d, want SEP", ids[4])
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  a \n b\tc  ")
	if len(words) != 3 {
		t.Errorf("expected 3 words, got %v", words)
	}
	if len(SplitWords("")) != 0 {
		t.Error("empty string should return no words")
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("a very long string that overflows the accumulator many times over") < 0 {
		t.Error("hash should be non-negative")
	}
}
