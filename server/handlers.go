package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"immersion/actor"
	"immersion/convention"
)

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	c, err := s.conventions.Create(r.Context(), req.toParams())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toConventionResponse(c))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.conventions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	a := actorFrom(r.Context())
	if a.Role.IsSignatory() && a.ConventionID != c.ID {
		s.writeError(w, http.StatusForbidden, "token grants access to another convention")
		return
	}
	s.writeJSON(w, http.StatusOK, toConventionResponse(c))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	c, err := s.conventions.Submit(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toConventionResponse(c))
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	c, err := s.conventions.Sign(r.Context(), chi.URLParam(r, "id"), actor.Role(req.Role), actorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toConventionResponse(c))
}

func (s *Server) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	var req updateDraftRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.UpdatedAt.IsZero() {
		s.writeError(w, http.StatusBadRequest, "updatedAt is required for draft edits")
		return
	}

	id := chi.URLParam(r, "id")
	patch := convention.DraftPatch{
		DateStart: req.DateStart,
		DateEnd:   req.DateEnd,
		Schedule:  req.Schedule,
		Siret:     req.Siret,
	}
	if err := s.conventions.UpdateDraftDetails(r.Context(), id, actorFrom(r.Context()), patch, req.UpdatedAt); err != nil {
		s.writeServiceError(w, err)
		return
	}

	c, err := s.conventions.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toConventionResponse(c))
}

func (s *Server) handleAcceptByCounsellor(w http.ResponseWriter, r *http.Request) {
	s.handleAccept(w, r, s.conventions.AcceptByCounsellor)
}

func (s *Server) handleAcceptByValidator(w http.ResponseWriter, r *http.Request) {
	s.handleAccept(w, r, s.conventions.AcceptByValidator)
}

type acceptFunc func(ctx context.Context, id string, a actor.Actor, patch *convention.AcceptancePatch) (convention.Convention, error)

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request, accept acceptFunc) {
	req := acceptRequest{}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}

	c, err := accept(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()), req.toPatch())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toConventionResponse(c))
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	c, err := s.conventions.MarkValidated(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toConventionResponse(c))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleTerminate(w, r, s.conventions.Reject)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.handleTerminate(w, r, s.conventions.Cancel)
}

func (s *Server) handleRequestModification(w http.ResponseWriter, r *http.Request) {
	s.handleTerminate(w, r, s.conventions.RequestModification)
}

type justifiedFunc func(ctx context.Context, id string, a actor.Actor, justification string) (convention.Convention, error)

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request, op justifiedFunc) {
	var req justificationRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	c, err := op(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()), req.Justification)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toConventionResponse(c))
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	var req renewRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	c, err := s.conventions.Renew(r.Context(), chi.URLParam(r, "id"), actorFrom(r.Context()), req.DateStart, req.DateEnd, req.Schedule)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toConventionResponse(c))
}
