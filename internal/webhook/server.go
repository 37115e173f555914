package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentbeats/gaiaboard/internal/eventlog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the dedicated webhook listener. It runs on its own port so the
// ingestion surface can be firewalled separately from the read API.
type Server struct {
	config   Config
	pipeline *Pipeline
	logger   *slog.Logger
	server   *http.Server
}

func NewServer(config Config, pipeline *Pipeline, logger *slog.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Server{
		config:   config,
		pipeline: pipeline,
		logger:   logger,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen,
		"allow_unsigned", s.config.AllowUnsigned)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/github", s.handleGitHub)
	r.Get("/healthz", s.handleHealthz)

	return r
}

// loggingMiddleware logs HTTP requests (never payload bodies).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"delivery_id", r.Header.Get("X-GitHub-Delivery"),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleGitHub handles POST /webhooks/github.
func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	limited := io.LimitReader(r.Body, s.config.MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxBodyBytes {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	res := s.pipeline.Process(r.Context(), Delivery{
		ID:        r.Header.Get("X-GitHub-Delivery"),
		Event:     r.Header.Get("X-GitHub-Event"),
		Signature: r.Header.Get("X-Hub-Signature-256"),
		Body:      body,
	})

	if res.Internal {
		s.respondError(w, http.StatusInternalServerError, "delivery processing failed")
		return
	}

	resp := DeliveryResponse{
		DeliveryID:   r.Header.Get("X-GitHub-Delivery"),
		Outcome:      string(res.Outcome),
		SubmissionID: res.SubmissionID,
		Duplicate:    res.Duplicate,
		Detail:       res.Detail,
	}
	s.respondJSON(w, statusForOutcome(res), resp)
}

// statusForOutcome maps terminal pipeline states to HTTP codes. Duplicates
// always answer 200 with the prior outcome so GitHub stops redelivering.
func statusForOutcome(res Result) int {
	if res.Duplicate {
		return http.StatusOK
	}
	switch res.Outcome {
	case eventlog.OutcomeComplete, eventlog.OutcomeStored:
		return http.StatusAccepted
	case eventlog.OutcomeNoPayload:
		return http.StatusOK
	case eventlog.OutcomeRejectedSignature:
		return http.StatusForbidden
	case eventlog.OutcomeMalformed:
		return http.StatusBadRequest
	case eventlog.OutcomeValidationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
