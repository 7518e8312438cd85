package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/runway/internal/orchestrator"
)

// Server represents the webhook HTTP server.
type Server struct {
	config  Config
	starter Starter
	logger  *slog.Logger
	server  *http.Server

	endpoints map[string]*EndpointConfig
}

// New creates a new webhook server instance.
func New(config Config, starter Starter, logger *slog.Logger) *Server {
	endpoints := make(map[string]*EndpointConfig)
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		if ep.EventHeader == "" {
			ep.EventHeader = DefaultEventHeader
		}
		endpoints[ep.Path] = ep
	}

	return &Server{
		config:    config,
		starter:   starter,
		logger:    logger,
		endpoints: endpoints,
	}
}

// Start starts the webhook HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

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

// Handler returns the router serving every configured endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handleWebhook)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
	})
	return r
}

// loggingMiddleware logs requests without their bodies.
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
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	signature := r.Header.Get(endpoint.SignatureHeader)
	if signature == "" {
		s.logger.Warn("webhook signature missing", "path", r.URL.Path, "header", endpoint.SignatureHeader)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err := verifySignature(body, signature, endpoint.Secret); err != nil {
		s.logger.Warn("webhook signature verification failed", "path", r.URL.Path, "error", err)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	event := strings.TrimSpace(r.Header.Get(endpoint.EventHeader))
	if event == "" {
		s.respondError(w, http.StatusBadRequest, "missing "+endpoint.EventHeader+" header")
		return
	}
	if event == "ping" {
		s.respondJSON(w, http.StatusOK, TriggerResponse{Event: event, Runs: []RunRef{}})
		return
	}

	opts, err := toOptions(event, body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := s.trigger(r.Context(), endpoint, opts)
	status := http.StatusOK
	switch {
	case len(resp.Runs) > 0:
		status = http.StatusAccepted
	case len(resp.Errors) > 0:
		status = http.StatusUnprocessableEntity
	}
	s.respondJSON(w, status, resp)
}

// trigger starts every workflow of endpoint for opts.
func (s *Server) trigger(ctx context.Context, endpoint *EndpointConfig, opts orchestrator.Options) TriggerResponse {
	resp := TriggerResponse{Event: opts.Event, Runs: []RunRef{}}
	for _, wf := range endpoint.Workflows {
		sess, err := s.starter.StartFile(ctx, wf, opts)
		switch {
		case errors.Is(err, orchestrator.ErrNotTriggered):
			s.logger.Debug("workflow not triggered", "workflow", wf, "event", opts.Event, "ref", opts.Ref)
			resp.Skipped = append(resp.Skipped, wf)
		case err != nil:
			s.logger.Error("failed to start workflow", "workflow", wf, "event", opts.Event, "error", err)
			resp.Errors = append(resp.Errors, RunFailed{Workflow: wf, Error: err.Error()})
		default:
			s.logger.Info("webhook run started",
				"path", endpoint.Path,
				"workflow", wf,
				"event", opts.Event,
				"ref", opts.Ref,
				"run_id", sess.ID(),
			)
			resp.Runs = append(resp.Runs, RunRef{Workflow: wf, RunID: sess.ID(), RunNumber: sess.RunNumber()})
		}
	}
	return resp
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("write webhook response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
