// Package api is the HTTP control plane: the same operations the CLI
// offers, served as envelope JSON for the player UI and remote
// operators.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fppkit/calbridge/internal/app"
	"github.com/fppkit/calbridge/internal/pipeline"
	"github.com/fppkit/calbridge/pkg/observability"
)

// Server is the HTTP control plane server.
type Server struct {
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	app     *app.Container
	handler http.Handler
}

// ServerConfig holds configuration for the control plane server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration.
// Loopback only; exposing the control plane wider is a deliberate
// operator decision.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:        "127.0.0.1:8145",
		ReadTimeout: 15 * time.Second,
		// applies wait on provider round trips
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates the control plane server around the app container.
func NewServer(cfg ServerConfig, container *app.Container, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	s := &Server{
		mux:    mux,
		logger: logger,
		app:    container,
	}

	// Register routes
	s.registerRoutes()
	s.handler = s.withCorrelation(mux)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes() {
	// Health check
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Control plane v1
	s.mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/v1/diagnostics", s.handleDiagnostics)
	s.mux.HandleFunc("POST /api/v1/preview", s.handlePreview)
	s.mux.HandleFunc("POST /api/v1/apply", s.handleApply)
	s.mux.HandleFunc("PUT /api/v1/calendar", s.handleSetCalendar)
	s.mux.HandleFunc("PUT /api/v1/sync-mode", s.handleSetSyncMode)

	// Everything else is not an action we know.
	s.mux.HandleFunc("/", s.handleUnknown)
}

// withCorrelation tags every request with a correlation id and logs
// the round trip.
func (s *Server) withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		ctx := observability.WithCorrelationID(r.Context(), id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"correlation_id", id,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// Handler exposes the full handler chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Start starts the control plane server.
func (s *Server) Start() error {
	s.logger.Info("starting control plane server",
		"addr", s.server.Addr,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down control plane server")
	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Log error but can't do much at this point
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// ok writes a success envelope.
func ok(w http.ResponseWriter, details map[string]any) {
	writeJSON(w, http.StatusOK, pipeline.Succeed(details))
}

// fail classifies the error into a failure envelope with the matching
// HTTP status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	env := pipeline.Fail(err, observability.CorrelationIDFromContext(r.Context()))
	writeJSON(w, statusFor(err), env)
}

// statusFor maps the failure kind onto an HTTP status.
func statusFor(err error) int {
	f := pipeline.Classify(err)
	if f == nil {
		return http.StatusOK
	}
	switch f.Kind {
	case pipeline.KindValidation, pipeline.KindResolution:
		return http.StatusBadRequest
	case pipeline.KindConflict, pipeline.KindConcurrency:
		return http.StatusConflict
	case pipeline.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
