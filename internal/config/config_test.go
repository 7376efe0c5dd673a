package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
index:
  database_path: "./index.db"
embedding:
  provider: mock
  dimensions: 8
source:
  directory: "./posts"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if !cfg.Index.IsEnabled() {
		t.Error("index should be enabled by default")
	}
	if !cfg.Index.MigrationAllowed() {
		t.Error("dimension migration should be allowed by default")
	}
	if cfg.Embedding.Dimensions != 8 {
		t.Errorf("dimensions: got %d", cfg.Embedding.Dimensions)
	}
}

func TestLoad_defaults(t *testing.T) {
	path := writeConfig(t, `
index:
  database_path: "./index.db"
embedding:
  provider: mock
source:
  directory: "./posts"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chunking.MaxChars != 1200 || cfg.Chunking.OverlapChars() != 160 {
		t.Errorf("chunking defaults: %+v", cfg.Chunking)
	}
	if cfg.Rebuild.Workers != 2 || cfg.Rebuild.ErrorCap != 20 {
		t.Errorf("rebuild defaults: %+v", cfg.Rebuild)
	}
	if cfg.Embedding.Timeout != 20*time.Second {
		t.Errorf("timeout default: %s", cfg.Embedding.Timeout)
	}
	if cfg.Search.DefaultTopK != 5 {
		t.Errorf("top_k default: %d", cfg.Search.DefaultTopK)
	}
	if cfg.Index.Backend != "builtin" {
		t.Errorf("backend default: %q", cfg.Index.Backend)
	}
	if cfg.Source.Type != "files" {
		t.Errorf("source default: %q", cfg.Source.Type)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
index:
  database_path: "./data/index.db"
embedding:
  provider: mock
source:
  directory: "./content/posts"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	if want := filepath.Join(dir, "data", "index.db"); cfg.Index.DatabasePath != want {
		t.Errorf("database_path: got %q, want %q", cfg.Index.DatabasePath, want)
	}
	if want := filepath.Join(dir, "content", "posts"); cfg.Source.Directory != want {
		t.Errorf("source.directory: got %q, want %q", cfg.Source.Directory, want)
	}
}

func TestLoad_explicitFalseFlags(t *testing.T) {
	path := writeConfig(t, `
index:
  enabled: false
  database_path: "./index.db"
  allow_dimension_migration: false
embedding:
  provider: mock
source:
  directory: "./posts"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Index.IsEnabled() {
		t.Error("index should be disabled")
	}
	if cfg.Index.MigrationAllowed() {
		t.Error("migration should be disallowed")
	}
	if err := cfg.RequireIndex(); !errors.Is(err, ErrIndexDisabled) {
		t.Errorf("RequireIndex: got %v", err)
	}
}

func TestLoad_explicitZeroOverlap(t *testing.T) {
	path := writeConfig(t, `
index:
  database_path: "./index.db"
embedding:
  provider: mock
chunking:
  max_chars: 500
  overlap: 0
source:
  directory: "./posts"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Chunking.OverlapChars(); got != 0 {
		t.Errorf("overlap: got %d, want 0", got)
	}

	cfg = &Config{}
	ApplyDefaults(cfg)
	if cfg.Chunking.Overlap == nil || *cfg.Chunking.Overlap != DefaultOverlap {
		t.Errorf("default overlap: %v", cfg.Chunking.Overlap)
	}
}

func TestLoad_dotEnvSuppliesAPIKey(t *testing.T) {
	t.Setenv("KIOKU_EMBEDDING_API_KEY", "")
	t.Setenv("KIOKU_TEST_KEY", "")
	os.Unsetenv("KIOKU_TEST_KEY")
	path := writeConfig(t, `
index:
  database_path: "./index.db"
embedding:
  provider: openai
  api_key_env: KIOKU_TEST_KEY
source:
  directory: "./posts"
`)
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envPath, []byte("KIOKU_TEST_KEY=sk-from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.APIKey != "sk-from-dotenv" {
		t.Errorf("api key: got %q", cfg.Embedding.APIKey)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "unknown provider",
			content: `
embedding:
  provider: cohere
source:
  directory: "./posts"
`,
			want: "Provider",
		},
		{
			name: "too many workers",
			content: `
embedding:
  provider: mock
rebuild:
  workers: 32
source:
  directory: "./posts"
`,
			want: "Workers",
		},
		{
			name: "overlap not below max chars",
			content: `
embedding:
  provider: mock
chunking:
  max_chars: 100
  overlap: 100
source:
  directory: "./posts"
`,
			want: "Overlap",
		},
		{
			name: "postgres without dsn",
			content: `
embedding:
  provider: mock
source:
  type: postgres
  dsn_env: KIOKU_TEST_MISSING_DSN
`,
			want: "source.dsn",
		},
		{
			name: "onnx without model",
			content: `
embedding:
  provider: onnx
source:
  directory: "./posts"
`,
			want: "model_path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Embedding.Provider = "mock"
	cfg.Source.Directory = "/srv/posts"
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != cfg.Server.Port || loaded.Source.Directory != "/srv/posts" {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}
