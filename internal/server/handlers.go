package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/rebuild"
	"github.com/hyperjump/kioku/internal/search"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if errs := req.Validate(); errs != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request", "fields": errs})
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("top_k", req.TopK))
	resp, err := s.engine.SearchByText(r.Context(), req.Query, req.TopK)
	var notReady *search.NotReadyError
	switch {
	case errors.As(err, &notReady):
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":  search.ErrIndexNotReady.Error(),
			"reason": notReady.Reason,
		})
		return
	case errors.Is(err, search.ErrEmptyQuery):
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ready, err := s.engine.Readiness(r.Context())
	if err != nil {
		s.logger.Error("readiness failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, ready)
}

func (s *Server) handleRebuildStart(w http.ResponseWriter, r *http.Request) {
	runID, err := s.scheduler.Start(r.Context())
	if errors.Is(err, rebuild.ErrRebuildInProgress) {
		s.respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error":  err.Error(),
			"status": s.scheduler.Status(),
		})
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("rebuild requested", zap.String("run_id", runID))
	s.respondJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "started"})
}

func (s *Server) handleRebuildStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleRebuildCancel(w http.ResponseWriter, r *http.Request) {
	if !s.scheduler.Cancel() {
		s.respondError(w, http.StatusConflict, "no rebuild in progress")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("index document request", zap.String("id", id))
	if err := s.indexer.MarkQueued(r.Context(), id); err != nil {
		s.logger.Warn("mark queued failed", zap.String("id", id), zap.Error(err))
	}
	res, err := s.indexer.IndexDocument(r.Context(), id)
	if res != nil && res.Outcome == models.OutcomeFailed {
		s.respondJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	if err != nil {
		s.logger.Error("indexing failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.indexer.DeleteDocument(r.Context(), id); err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
