// Package server assembles the HTTP surface: routing, middleware and the
// draining flag consulted during graceful shutdown.
package server

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/luminalearn/teachback/pkg/gateway/config"
	"github.com/luminalearn/teachback/pkg/gateway/handlers"
	"github.com/luminalearn/teachback/pkg/gateway/mw"
)

type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	deps     handlers.Deps
	mux      *http.ServeMux
	draining atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger, deps handlers.Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	s := &Server{cfg: cfg, logger: logger, deps: deps, mux: http.NewServeMux()}
	if s.deps.Draining == nil {
		s.deps.Draining = s.IsDraining
	}
	s.routes()
	return s
}

// SetDraining flips the readiness probe to not-ready. Requests already in
// flight keep running; the probe change stops new traffic arriving.
func (s *Server) SetDraining(v bool) { s.draining.Store(v) }

func (s *Server) IsDraining() bool { return s.draining.Load() }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", handlers.Health())
	s.mux.HandleFunc("GET /readyz", handlers.Ready(s.deps))

	s.mux.HandleFunc("POST /v1/sessions", handlers.CreateSession(s.deps))
	s.mux.HandleFunc("GET /v1/sessions/{id}", handlers.GetSession(s.deps))
	s.mux.HandleFunc("DELETE /v1/sessions/{id}", handlers.AbortSession(s.deps))
	s.mux.HandleFunc("POST /v1/sessions/{id}/turns", handlers.SubmitTurn(s.deps))
	s.mux.HandleFunc("POST /v1/sessions/{id}/acknowledge", handlers.Acknowledge(s.deps))
	s.mux.HandleFunc("POST /v1/sessions/{id}/finish", handlers.FinishTeaching(s.deps))
	s.mux.HandleFunc("POST /v1/sessions/{id}/answers", handlers.SubmitAnswer(s.deps))

	admin := func(h http.HandlerFunc) http.Handler { return mw.AdminOnly(h) }
	s.mux.Handle("GET /api/admin/teach-back/monitoring", admin(handlers.Monitoring(s.deps)))
	s.mux.Handle("PUT /api/admin/teach-back/feature", admin(handlers.SetFeature(s.deps)))
	s.mux.Handle("PUT /api/admin/teach-back/quota-overrides/{user}", admin(handlers.SetQuotaOverride(s.deps)))
	s.mux.Handle("DELETE /api/admin/teach-back/quota-overrides/{user}", admin(handlers.ClearQuotaOverride(s.deps)))
	s.mux.Handle("DELETE /api/admin/teach-back/maintenance", admin(handlers.ClearMaintenance(s.deps)))
	s.mux.Handle("POST /api/admin/teach-back/retention/run", admin(handlers.RunRetention(s.deps)))
	s.mux.Handle("POST /api/admin/teach-back/plan-changes", admin(handlers.PlanChanged(s.deps)))
}

// Handler returns the full middleware chain. RequestID runs outermost so
// every log line, including panics, carries the ID.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
