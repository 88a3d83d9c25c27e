package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"immersion/actor"
	"immersion/convention"
	"immersion/outbox"
	"immersion/partnersync"
)

// Server exposes the convention lifecycle and the operator surface over HTTP.
type Server struct {
	conventions *convention.Service
	outbox      outbox.Repository
	sync        partnersync.Repository
	tokens      *actor.Tokens
	logger      *zap.Logger
}

func New(conventions *convention.Service, outboxRepo outbox.Repository, syncRepo partnersync.Repository, tokens *actor.Tokens, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		conventions: conventions,
		outbox:      outboxRepo,
		sync:        syncRepo,
		tokens:      tokens,
		logger:      logger,
	}
}

// Router builds the route tree. Creation is unauthenticated: the draft form
// is the public entry point. Everything else requires a token.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/conventions", func(r chi.Router) {
		r.Post("/", s.handleCreate)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get("/{id}", s.handleGet)
			r.Patch("/{id}", s.handleUpdateDraft)
			r.Post("/{id}/submit", s.handleSubmit)
			r.Post("/{id}/sign", s.handleSign)
			r.Post("/{id}/accept-by-counsellor", s.handleAcceptByCounsellor)
			r.Post("/{id}/accept-by-validator", s.handleAcceptByValidator)
			r.Post("/{id}/validate", s.handleValidate)
			r.Post("/{id}/reject", s.handleReject)
			r.Post("/{id}/cancel", s.handleCancel)
			r.Post("/{id}/request-modification", s.handleRequestModification)
			r.Post("/{id}/renew", s.handleRenew)
		})
	})

	r.Route("/api/operator", func(r chi.Router) {
		r.Use(s.authenticate, s.requireBackOffice)
		r.Get("/events/quarantined", s.handleQuarantined)
		r.Post("/events/{id}/requeue", s.handleRequeueEvent)
		r.Post("/partner-sync/{id}/requeue", s.handleRequeueSync)
		r.Post("/partner-sync/{id}/skip", s.handleSkipSync)
	})

	return r
}

type actorKey struct{}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		a, err := s.tokens.Verify(token)
		if err != nil {
			if errors.Is(err, actor.ErrExpiredToken) {
				s.writeError(w, http.StatusUnauthorized, "token expired")
				return
			}
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, a)))
	})
}

func (s *Server) requireBackOffice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actorFrom(r.Context()).Role != actor.RoleBackOffice {
			s.writeError(w, http.StatusForbidden, "operator access only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorFrom(ctx context.Context) actor.Actor {
	a, _ := ctx.Value(actorKey{}).(actor.Actor)
	return a
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

// writeServiceError maps the domain error taxonomy onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, convention.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, convention.ErrForbidden):
		s.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, convention.ErrNotFound),
		errors.Is(err, outbox.ErrEventNotFound),
		errors.Is(err, partnersync.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, convention.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, outbox.ErrNotQuarantined):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("internal error", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
