package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
)

// NewFromConfig builds the configured provider wrapped with a per-call
// timeout and a rate limit. Credentials are checked here so a misconfigured
// provider fails at startup rather than on the first document.
func NewFromConfig(cfg *config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		provider Embedder
		err      error
	)
	switch cfg.Provider {
	case "openai":
		provider, err = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Logger:     logger,
		})
	case "ollama":
		provider = NewOllamaEmbedder(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	case "onnx":
		provider, err = NewONNXEmbedder(ONNXConfig{
			ModelPath:   cfg.ModelPath,
			Dimensions:  cfg.Dimensions,
			MaxTokens:   cfg.MaxTokens,
			LibraryPath: cfg.LibraryPath,
		})
	case "mock":
		provider = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	timeout := ClampTimeout(cfg.Timeout)
	if timeout != cfg.Timeout && cfg.Timeout != 0 {
		logger.Warn("embedding timeout clamped",
			zap.Duration("configured", cfg.Timeout), zap.Duration("effective", timeout))
	}
	var e Embedder = NewTimeoutEmbedder(provider, timeout)
	if cfg.RateLimit > 0 {
		e = NewRateLimitedEmbedder(e, cfg.RateLimit, cfg.RateBurst)
	}
	logger.Info("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", ModelName(e)),
		zap.Int("dimensions", e.Dimensions()),
		zap.Duration("timeout", timeout))
	return e, nil
}

// ModelName reports the model behind e, looking through wrappers.
func ModelName(e Embedder) string {
	for e != nil {
		if m, ok := e.(interface{ Model() string }); ok {
			return m.Model()
		}
		u, ok := e.(interface{ Unwrap() Embedder })
		if !ok {
			return ""
		}
		e = u.Unwrap()
	}
	return ""
}
