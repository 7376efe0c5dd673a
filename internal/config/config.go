// Package config provides configuration loading and structs for kioku.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrIndexDisabled is returned when the retrieval index is switched off.
var ErrIndexDisabled = errors.New("retrieval index is disabled")

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Rebuild   RebuildConfig   `yaml:"rebuild"`
	Search    SearchConfig    `yaml:"search"`
	Source    SourceConfig    `yaml:"source"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`
}

// IndexConfig holds the index store settings.
type IndexConfig struct {
	Enabled                 *bool         `yaml:"enabled"`
	DatabasePath            string        `yaml:"database_path" validate:"required"`
	Backend                 string        `yaml:"backend" validate:"oneof=builtin sqlite-vec auto"`
	ExtensionPath           string        `yaml:"extension_path"`
	ExtensionDirs           []string      `yaml:"extension_dirs"`
	BusyTimeout             time.Duration `yaml:"busy_timeout" validate:"gte=0"`
	AllowDimensionMigration *bool         `yaml:"allow_dimension_migration"`
}

// IsEnabled defaults to true when unset.
func (c *IndexConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// MigrationAllowed reports whether a dimension change may purge the index; defaults to true.
func (c *IndexConfig) MigrationAllowed() bool {
	return c.AllowDimensionMigration == nil || *c.AllowDimensionMigration
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider" validate:"oneof=openai ollama onnx mock"`
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey     string        `yaml:"api_key"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	Dimensions int           `yaml:"dimensions" validate:"gte=0"`
	Timeout    time.Duration `yaml:"timeout" validate:"gte=0"`
	RateLimit  float64       `yaml:"rate_limit" validate:"gte=0"`
	RateBurst  int           `yaml:"rate_burst" validate:"gte=0"`
	CacheSize  int           `yaml:"cache_size" validate:"gte=0"`
	// ONNX only.
	ModelPath   string `yaml:"model_path"`
	LibraryPath string `yaml:"library_path"`
	MaxTokens   int    `yaml:"max_tokens" validate:"gte=0"`
}

// ChunkingConfig holds passage splitting settings.
type ChunkingConfig struct {
	MaxChars  int    `yaml:"max_chars" validate:"gte=1"`
	Overlap   *int   `yaml:"overlap" validate:"omitempty,gte=0,ltfield=MaxChars"`
	Tokenizer string `yaml:"tokenizer" validate:"oneof=heuristic cl100k_base"`
}

// OverlapChars defaults to DefaultOverlap when unset; an explicit 0 disables overlap.
func (c *ChunkingConfig) OverlapChars() int {
	if c.Overlap == nil {
		return DefaultOverlap
	}
	return *c.Overlap
}

// RebuildConfig holds full-rebuild settings.
type RebuildConfig struct {
	Workers  int `yaml:"workers" validate:"gte=1,lte=8"`
	ErrorCap int `yaml:"error_cap" validate:"gte=1"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k" validate:"gte=1,lte=100"`
}

// SourceConfig selects the authoritative document store.
type SourceConfig struct {
	Type      string `yaml:"type" validate:"oneof=files postgres sqlite"`
	Directory string `yaml:"directory" validate:"required_if=Type files"`
	DSN       string `yaml:"dsn"`
	DSNEnv    string `yaml:"dsn_env"`
	Table     string `yaml:"table" validate:"omitempty,alphanumunicode|containsrune=_"`
	// Columns map the posts table; names are used verbatim in SQL.
	IDColumn      string `yaml:"id_column"`
	TitleColumn   string `yaml:"title_column"`
	ExcerptColumn string `yaml:"excerpt_column"`
	BodyColumn    string `yaml:"body_column"`
	StatusColumn  string `yaml:"status_column"`
	Published     string `yaml:"published_value"`
}

// WatchConfig holds settings for watching a file source.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

var validate = validator.New()

// Load reads the config file at path, loads a sibling .env file, applies
// defaults and environment overrides, expands paths, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := loadDotEnv(configDir); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	cfg.Index.DatabasePath = expandPath(cfg.Index.DatabasePath, configDir)
	if cfg.Index.ExtensionPath != "" {
		cfg.Index.ExtensionPath = expandPath(cfg.Index.ExtensionPath, configDir)
	}
	for i := range cfg.Index.ExtensionDirs {
		cfg.Index.ExtensionDirs[i] = expandPath(cfg.Index.ExtensionDirs[i], configDir)
	}
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Source.Directory != "" {
		cfg.Source.Directory = expandPath(cfg.Source.Directory, configDir)
	}
	if cfg.Source.Type == "sqlite" && cfg.Source.DSN != "" {
		cfg.Source.DSN = expandPath(cfg.Source.DSN, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv loads .env from the config directory; a missing file is fine.
// Variables already set in the environment win.
func loadDotEnv(configDir string) error {
	envPath := filepath.Join(configDir, ".env")
	if _, err := os.Stat(envPath); err != nil {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("failed to load %s: %w", envPath, err)
	}
	return nil
}

// ApplyEnv fills secrets from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("KIOKU_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	} else if cfg.Embedding.APIKey == "" && cfg.Embedding.APIKeyEnv != "" {
		cfg.Embedding.APIKey = os.Getenv(cfg.Embedding.APIKeyEnv)
	}
	if cfg.Source.DSN == "" && cfg.Source.DSNEnv != "" {
		cfg.Source.DSN = os.Getenv(cfg.Source.DSNEnv)
	}
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if (c.Source.Type == "postgres" || c.Source.Type == "sqlite") && c.Source.DSN == "" {
		return fmt.Errorf("invalid config: source.dsn is required for %s sources", c.Source.Type)
	}
	if c.Embedding.Provider == "onnx" && c.Embedding.ModelPath == "" {
		return fmt.Errorf("invalid config: embedding.model_path is required for the onnx provider")
	}
	return nil
}

// RequireIndex fails fast when the index feature is disabled.
func (c *Config) RequireIndex() error {
	if !c.Index.IsEnabled() {
		return ErrIndexDisabled
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
