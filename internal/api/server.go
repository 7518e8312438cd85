// Package api serves the runway HTTP surface: starting and inspecting runs,
// the acquire/complete loop used by remote workers, the lifecycle event
// stream and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/runway/internal/auth"
	"github.com/mattjoyce/runway/internal/events"
	"github.com/mattjoyce/runway/internal/orchestrator"
	"github.com/mattjoyce/runway/internal/pipeline"
	"github.com/mattjoyce/runway/internal/protocol"
	"github.com/mattjoyce/runway/internal/state"
	"github.com/mattjoyce/runway/internal/template"
)

// Engine starts and tracks sessions. *orchestrator.Engine implements it.
type Engine interface {
	Start(ctx context.Context, p *pipeline.PipelineTemplate, o orchestrator.Options) (*orchestrator.Session, error)
	StartFile(ctx context.Context, path string, o orchestrator.Options) (*orchestrator.Session, error)
	Session(id string) (*orchestrator.Session, bool)
	Sessions() []*orchestrator.Session
	Cancel(id string) error
	Complete(ctx context.Context, c protocol.Completion) error
}

// JobSource hands queued requests to workers. queue.Queue implements it.
type JobSource interface {
	Acquire(ctx context.Context, labels []string) (*protocol.JobRequest, error)
	Depth(ctx context.Context) (int, error)
}

// RunStore reads persisted run summaries. *state.Store implements it.
type RunStore interface {
	GetRun(ctx context.Context, id string) (*state.Run, error)
	ListRuns(ctx context.Context, limit int) ([]state.Run, error)
}

// EventSource is the subscriber side of an events.Hub.
type EventSource interface {
	Follow(lastID int64) ([]events.Event, <-chan events.Event, func())
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is a single admin bearer token. With no key and no tokens the
	// API is open.
	APIKey string
	Tokens []auth.TokenConfig
	// WorkflowRoot is where POST /runs resolves workflow paths. Paths that
	// escape it are rejected.
	WorkflowRoot string
	Limits       template.Limits
}

// Server represents the HTTP API server.
type Server struct {
	config    Config
	engine    Engine
	jobs      JobSource
	runs      RunStore
	events    EventSource
	metrics   http.Handler
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

type Option func(*Server)

// WithRunStore serves run history beyond the sessions held in memory.
func WithRunStore(r RunStore) Option { return func(s *Server) { s.runs = r } }

// WithEvents enables GET /events.
func WithEvents(e EventSource) Option { return func(s *Server) { s.events = e } }

// WithMetrics mounts h on GET /metrics.
func WithMetrics(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// New creates a new API server instance.
func New(config Config, engine Engine, jobs JobSource, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		config:    config,
		engine:    engine,
		jobs:      jobs,
		logger:    logger,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /events streams for as long as the client stays.
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

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(auth.ScopeRunsRead)).Get("/runs", s.handleListRuns)
		r.With(s.requireScopes(auth.ScopeRunsRead)).Get("/runs/{runID}", s.handleGetRun)
		r.With(s.requireScopes(auth.ScopeRunsWrite)).Post("/runs", s.handleStartRun)
		r.With(s.requireScopes(auth.ScopeRunsWrite)).Post("/runs/{runID}/cancel", s.handleCancelRun)

		r.With(s.requireScopes(auth.ScopeJobsWrite)).Post("/jobs/acquire", s.handleAcquire)
		r.With(s.requireScopes(auth.ScopeJobsWrite)).Post("/jobs/complete", s.handleComplete)

		if s.events != nil {
			r.With(s.requireScopes(auth.ScopeEventsRead)).Get("/events", s.handleEvents)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
