// Package api serves the read/write REST surface: leaderboard views,
// submission lookups, direct submissions, admin operations, SSE, and
// operational endpoints. It runs on its own listener, separate from the
// webhook ingestion port.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/agentbeats/gaiaboard/internal/auth"
	"github.com/agentbeats/gaiaboard/internal/eventlog"
	"github.com/agentbeats/gaiaboard/internal/events"
	"github.com/agentbeats/gaiaboard/internal/leaderboard"
	"github.com/agentbeats/gaiaboard/internal/metrics"
	"github.com/agentbeats/gaiaboard/internal/submission"
)

// Config holds API server configuration.
type Config struct {
	Listen      string
	CORSOrigins []string
	Tokens      []auth.TokenConfig
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	store     *submission.Store
	board     *leaderboard.Materializer
	eventLog  *eventlog.Log
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates an API server over the shared stores and event hub.
func New(config Config, store *submission.Store, board *leaderboard.Materializer, eventLog *eventlog.Log, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		store:     store,
		board:     board,
		eventLog:  eventLog,
		hub:       hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// SSE connections stay open; no write timeout.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	if len(s.config.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
		}).Handler)
	}

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Route("/api/v1", func(r chi.Router) {
		// Public reads.
		r.Get("/leaderboard", s.handleLeaderboard(leaderboard.ScopeAgent))
		r.Get("/leaderboard/teams", s.handleLeaderboard(leaderboard.ScopeTeam))
		r.Get("/submissions/recent", s.handleRecentSubmissions)
		r.Get("/submissions/{id}", s.handleGetSubmission)
		r.Get("/agents/{agent}/history", s.handleAgentHistory)
		r.Get("/teams/{team}/history", s.handleTeamHistory)
		r.Get("/stats", s.handleStats)
		r.Get("/events", s.handleEvents)

		// Scoped writes.
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.With(s.requireScopes(auth.ScopeSubmit)).Post("/submissions", s.handleDirectSubmission)
			r.With(s.requireScopes(auth.ScopeAdmin)).Post("/submissions/{id}/verify", s.handleVerifySubmission)
			r.With(s.requireScopes(auth.ScopeAdmin)).Post("/admin/refresh", s.handleAdminRefresh)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests and feeds the request counter.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.RecordAPIRequest(route, r.Method, ww.Status())

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
