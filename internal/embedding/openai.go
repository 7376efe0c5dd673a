package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "text-embedding-3-small"
)

var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions is sent as a hint; providers that reject it are retried without.
	Dimensions int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// APIError is a non-2xx response from an embeddings endpoint.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// OpenAIEmbedder calls POST {base}/embeddings.
type OpenAIEmbedder struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	model    string
	strategy *dimensionStrategy
	dims     int
}

type openAIRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIEmbedder validates credentials and applies defaults.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingCredentials)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = openAIModelDimensions[cfg.Model]
	}
	e := &OpenAIEmbedder{
		client:  cfg.HTTPClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    dims,
	}
	e.strategy = &dimensionStrategy{hint: cfg.Dimensions, call: e.request, logger: cfg.Logger}
	return e, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, e, text)
}

// EmbedBatch embeds all texts in one request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return e.strategy.embed(ctx, texts)
}

func (e *OpenAIEmbedder) request(ctx context.Context, texts []string, dimensions int) ([][]float32, error) {
	body, err := json.Marshal(openAIRequest{Model: e.model, Input: texts, Dimensions: dimensions})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: send request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}

	var parsed openAIResponse
	decodeErr := json.Unmarshal(raw, &parsed)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, &APIError{Provider: "openai", StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrMalformedVector, decodeErr)
	}

	out := make([][]float32, len(parsed.Data))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("%w: bad index %d", ErrMalformedVector, d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			v[i] = float32(f)
		}
		out[d.Index] = v
	}
	return out, nil
}

// Dimensions returns the hinted or known model dimension; 0 for unknown models.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dims
}

// Model returns the model name.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

func (e *OpenAIEmbedder) Close() error {
	return nil
}

// dimensionStrategy sends the dimensions hint first and, when the provider
// rejects the request as invalid, repeats it once without the hint.
type dimensionStrategy struct {
	hint   int
	call   func(ctx context.Context, texts []string, dimensions int) ([][]float32, error)
	logger *zap.Logger
}

func (s *dimensionStrategy) tryWithHint(ctx context.Context, texts []string) ([][]float32, error) {
	return s.call(ctx, texts, s.hint)
}

func (s *dimensionStrategy) tryWithoutHint(ctx context.Context, texts []string) ([][]float32, error) {
	return s.call(ctx, texts, 0)
}

func (s *dimensionStrategy) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.hint <= 0 {
		return s.tryWithoutHint(ctx, texts)
	}
	vectors, err := s.tryWithHint(ctx, texts)
	if err == nil || !hintRejected(err) {
		return vectors, err
	}
	s.logger.Warn("embedding provider rejected dimensions hint, retrying without it",
		zap.Int("dimensions", s.hint), zap.Error(err))
	return s.tryWithoutHint(ctx, texts)
}

func hintRejected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusUnprocessableEntity
}
