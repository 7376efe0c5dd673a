package indexer

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter estimates how many model tokens a passage costs.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter assumes roughly four runes per token.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// TiktokenCounter counts with a BPE encoding such as cl100k_base.
type TiktokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding. Loading may need network
// access the first time unless the BPE files are cached.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

// NewTokenCounter returns the counter for name, falling back to the
// heuristic when the encoding cannot be loaded.
func NewTokenCounter(name string, logger *zap.Logger) TokenCounter {
	if name == "" || name == "heuristic" {
		return HeuristicCounter{}
	}
	c, err := NewTiktokenCounter(name)
	if err != nil {
		if logger != nil {
			logger.Warn("tokenizer unavailable, using heuristic token counts",
				zap.String("encoding", name), zap.Error(err))
		}
		return HeuristicCounter{}
	}
	return c
}
