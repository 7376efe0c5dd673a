package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/rebuild"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/source"
	"github.com/hyperjump/kioku/internal/storage"
)

type fixture struct {
	src     *source.MemorySource
	mock    *embedding.MockEmbedder
	handler http.Handler
	sched   *rebuild.Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	opener := storage.NewOpener(filepath.Join(t.TempDir(), "index.db"), storage.Options{})
	src := source.NewMemorySource()
	mock := embedding.NewMockEmbedder(8)
	engine := search.NewEngine(opener, mock)
	t.Cleanup(func() { _ = engine.Close() })
	idx := indexer.NewIndexer(opener, src, mock, indexer.NewChunker(80, 10))
	sched := rebuild.New(idx, rebuild.Options{Workers: 2})
	srv := NewServer(engine, idx, sched, &config.ServerConfig{Host: "localhost", Port: 8090}, zap.NewNop())
	return &fixture{src: src, mock: mock, handler: srv.Handler(), sched: sched}
}

func (f *fixture) put(id, body string) {
	f.src.Put(&models.SourceDocument{ID: id, Title: id, Body: body, Eligible: true})
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestSearch_NotReady(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/search", models.SearchRequest{Query: "anything"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	out := decode[map[string]string](t, w)
	assert.Equal(t, "index not yet built", out["error"])
	assert.Equal(t, "no indexed documents", out["reason"])
	assert.Zero(t, f.mock.Calls())
}

func TestSearch_InvalidRequest(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Query")

	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndexThenSearch(t *testing.T) {
	f := newFixture(t)
	f.put("tea", "Brewing green tea at low temperature.")
	f.put("bikes", "Adjusting derailleurs on a road bike.")

	for _, id := range []string{"tea", "bikes"} {
		w := f.do(t, http.MethodPost, "/api/v1/index/documents/"+id, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		res := decode[models.IndexResult](t, w)
		assert.Equal(t, models.OutcomeIndexed, res.Outcome)
		assert.Equal(t, 1, res.ChunkCount)
	}

	w := f.do(t, http.MethodGet, "/api/v1/index/readiness", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.Readiness](t, w).Ready)

	w = f.do(t, http.MethodPost, "/api/v1/search", models.SearchRequest{Query: "tea\n\nBrewing green tea at low temperature.", TopK: 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[models.SearchResponse](t, w)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "tea", resp.Hits[0].DocumentID)
	assert.Equal(t, 1, resp.Hits[0].Rank)

	w = f.do(t, http.MethodGet, "/api/v1/index/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[models.IndexStats](t, w)
	assert.EqualValues(t, 2, st.IndexedDocuments)
	assert.Equal(t, 8, st.Dimension)
}

func TestIndexDocument_Failed(t *testing.T) {
	f := newFixture(t)
	f.put("bad", "this body is poison")
	f.mock.FailWhen = func([]string) error { return errors.New("provider unavailable") }

	w := f.do(t, http.MethodPost, "/api/v1/index/documents/bad", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	res := decode[models.IndexResult](t, w)
	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	assert.NotEmpty(t, res.Error)
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t)
	f.put("gone", "short lived")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/index/documents/gone", nil).Code)

	w := f.do(t, http.MethodDelete, "/api/v1/index/documents/gone", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/index/stats", nil)
	st := decode[models.IndexStats](t, w)
	assert.Zero(t, st.TotalDocuments)
	assert.Zero(t, st.TotalChunks)
}

func TestRebuild_StartAndStatus(t *testing.T) {
	f := newFixture(t)
	f.put("a", "alpha")
	f.put("b", "beta")

	w := f.do(t, http.MethodPost, "/api/v1/index/rebuild", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	runID := decode[map[string]string](t, w)["run_id"]
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool { return !f.sched.Status().Running }, 5*time.Second, 10*time.Millisecond)

	w = f.do(t, http.MethodGet, "/api/v1/index/rebuild", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[models.RebuildStatus](t, w)
	assert.Equal(t, runID, st.RunID)
	require.NotNil(t, st.Summary)
	assert.Equal(t, 2, st.Summary.Indexed)
}

func TestRebuild_CancelWithoutRun(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodDelete, "/api/v1/index/rebuild", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStop_WithoutStart(t *testing.T) {
	srv := NewServer(nil, nil, nil, &config.ServerConfig{}, nil)
	assert.NoError(t, srv.Stop(context.Background()))
}
