package config

import "time"

// DefaultOverlap is the chunk overlap in runes when the config leaves it unset.
const DefaultOverlap = 160

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Index.DatabasePath == "" {
		cfg.Index.DatabasePath = "/usr/local/var/kioku/data/index.db"
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "builtin"
	}
	if cfg.Index.BusyTimeout == 0 {
		cfg.Index.BusyTimeout = 5 * time.Second
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 20 * time.Second
	}
	if cfg.Embedding.RateLimit == 0 {
		cfg.Embedding.RateLimit = 5
	}
	if cfg.Embedding.RateBurst == 0 {
		cfg.Embedding.RateBurst = 2
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Chunking.MaxChars == 0 {
		cfg.Chunking.MaxChars = 1200
	}
	if cfg.Chunking.Overlap == nil {
		overlap := DefaultOverlap
		cfg.Chunking.Overlap = &overlap
	}
	if cfg.Chunking.Tokenizer == "" {
		cfg.Chunking.Tokenizer = "heuristic"
	}
	if cfg.Rebuild.Workers == 0 {
		cfg.Rebuild.Workers = 2
	}
	if cfg.Rebuild.ErrorCap == 0 {
		cfg.Rebuild.ErrorCap = 20
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Source.Type == "" {
		cfg.Source.Type = "files"
	}
	if cfg.Source.DSNEnv == "" {
		cfg.Source.DSNEnv = "KIOKU_SOURCE_DSN"
	}
	if cfg.Source.Table == "" {
		cfg.Source.Table = "posts"
	}
	if cfg.Source.IDColumn == "" {
		cfg.Source.IDColumn = "id"
	}
	if cfg.Source.TitleColumn == "" {
		cfg.Source.TitleColumn = "title"
	}
	if cfg.Source.ExcerptColumn == "" {
		cfg.Source.ExcerptColumn = "excerpt"
	}
	if cfg.Source.BodyColumn == "" {
		cfg.Source.BodyColumn = "body"
	}
	if cfg.Source.StatusColumn == "" {
		cfg.Source.StatusColumn = "status"
	}
	if cfg.Source.Published == "" {
		cfg.Source.Published = "published"
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
}
