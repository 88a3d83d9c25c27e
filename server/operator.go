package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"immersion/partnersync"
)

func (s *Server) handleQuarantined(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := s.outbox.ListQuarantined(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quarantinedResponse{Events: events})
}

func (s *Server) handleRequeueEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.outbox.RequeueQuarantined(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequeueSync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := partnersync.Requeue(r.Context(), s.sync, id); err != nil {
		s.writeServiceError(w, err)
		return
	}

	record, err := s.sync.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toSyncResponse(record))
}

func (s *Server) handleSkipSync(w http.ResponseWriter, r *http.Request) {
	var req skipRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Reason == "" {
		s.writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := partnersync.MarkSkip(r.Context(), s.sync, id, req.Reason); err != nil {
		s.writeServiceError(w, err)
		return
	}

	record, err := s.sync.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toSyncResponse(record))
}
