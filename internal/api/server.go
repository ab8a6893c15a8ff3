// Package api is the thin HTTP boundary over the core pipeline.
// Marshalling and routing only; all policy lives below it. Rejections
// are deliberately generic so the response never reveals whether a
// signature, a replay check, or a pairing state caused them.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/geb16/prodtracker/internal/blocker"
	"github.com/geb16/prodtracker/internal/domain"
	"github.com/geb16/prodtracker/internal/pairing"
	"github.com/geb16/prodtracker/internal/usecase"
)

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	pipeline *usecase.Pipeline
	registry *pairing.Registry
	blocker  *blocker.Blocker
	history  domain.HistoryStore
	admin    *AdminGate
	logger   *zap.Logger
}

// NewServer wires the HTTP boundary.
func NewServer(
	pipeline *usecase.Pipeline,
	registry *pairing.Registry,
	b *blocker.Blocker,
	history domain.HistoryStore,
	admin *AdminGate,
	logger *zap.Logger,
) *Server {
	return &Server{
		pipeline: pipeline,
		registry: registry,
		blocker:  b,
		history:  history,
		admin:    admin,
		logger:   logger,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/pair", s.handlePair)
		r.Post("/heartbeat", s.handleHeartbeat)
		r.Get("/summary", s.handleSummary)

		r.Group(func(r chi.Router) {
			r.Use(s.admin.Require)
			r.Post("/block", s.handleBlock)
			r.Post("/unblock", s.handleUnblock)
			r.Get("/devices", s.handleDevices)
			r.Get("/history", s.handleHistory)
			r.Post("/revoke", s.handleRevoke)
		})
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
