package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Auth string
	Body openAIRequest
}

func newOpenAIServer(t *testing.T, handle func(w http.ResponseWriter, req openAIRequest)) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var body openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		reqs = append(reqs, recordedRequest{Auth: r.Header.Get("Authorization"), Body: body})
		mu.Unlock()
		handle(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func writeVectors(w http.ResponseWriter, n, dim int, reverse bool) {
	type item struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	}
	data := make([]item, n)
	for i := 0; i < n; i++ {
		idx := i
		if reverse {
			idx = n - 1 - i
		}
		v := make([]float64, dim)
		v[0] = float64(idx + 1)
		data[i] = item{Embedding: v, Index: idx}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func TestNewOpenAIEmbedder_missingKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "  "})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestOpenAIEmbedder_sendsHintAndOrdersByIndex(t *testing.T) {
	srv, reqs := newOpenAIServer(t, func(w http.ResponseWriter, req openAIRequest) {
		writeVectors(w, len(req.Input), 3, true)
	})
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Dimensions: 3})
	require.NoError(t, err)

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for i, v := range vectors {
		assert.Equal(t, float32(i+1), v[0], "vector %d out of order", i)
	}
	require.Len(t, *reqs, 1)
	assert.Equal(t, "Bearer sk-test", (*reqs)[0].Auth)
	assert.Equal(t, 3, (*reqs)[0].Body.Dimensions)
	assert.Equal(t, DefaultOpenAIModel, (*reqs)[0].Body.Model)
}

func TestOpenAIEmbedder_retriesWithoutRejectedHint(t *testing.T) {
	srv, reqs := newOpenAIServer(t, func(w http.ResponseWriter, req openAIRequest) {
		if req.Dimensions != 0 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"dimensions not supported","type":"invalid_request_error"}}`))
			return
		}
		writeVectors(w, len(req.Input), 5, false)
	})
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "custom", Dimensions: 3})
	require.NoError(t, err)

	vectors, err := e.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, vectors[0], 5)
	require.Len(t, *reqs, 2)
	assert.Equal(t, 3, (*reqs)[0].Body.Dimensions)
	assert.Equal(t, 0, (*reqs)[1].Body.Dimensions)
}

func TestOpenAIEmbedder_authErrorIsNotRetried(t *testing.T) {
	srv, reqs := newOpenAIServer(t, func(w http.ResponseWriter, _ openAIRequest) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	})
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-bad", BaseURL: srv.URL, Dimensions: 3})
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"a"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid api key", apiErr.Message)
	assert.Len(t, *reqs, 1)
}

func TestOpenAIEmbedder_duplicateIndexIsMalformed(t *testing.T) {
	srv, _ := newOpenAIServer(t, func(w http.ResponseWriter, _ openAIRequest) {
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1],"index":0},{"embedding":[2],"index":0}]}`))
	})
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrMalformedVector)
}

func TestOpenAIEmbedder_knownModelDimensions(t *testing.T) {
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", Model: "text-embedding-3-large"})
	require.NoError(t, err)
	assert.Equal(t, 3072, e.Dimensions())
	assert.Equal(t, "text-embedding-3-large", e.Model())

	e, err = NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", Model: "custom"})
	require.NoError(t, err)
	assert.Equal(t, 0, e.Dimensions())
}

func TestOpenAIEmbedder_emptyBatchSkipsRequest(t *testing.T) {
	srv, reqs := newOpenAIServer(t, func(w http.ResponseWriter, req openAIRequest) {
		writeVectors(w, len(req.Input), 2, false)
	})
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	vectors, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Empty(t, *reqs)
}
