package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/runway/internal/log"
	"github.com/mattjoyce/runway/internal/orchestrator"
	"github.com/mattjoyce/runway/internal/pipeline"
	"github.com/mattjoyce/runway/internal/protocol"
	"github.com/mattjoyce/runway/internal/queue"
	"github.com/mattjoyce/runway/internal/state"
	"github.com/mattjoyce/runway/internal/template"
)

// maxRequestBody caps JSON bodies, inline workflows included.
const maxRequestBody = 4 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth, err := s.jobs.Depth(r.Context())
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}

	active := 0
	for _, sess := range s.engine.Sessions() {
		if sess.Result() == "" {
			active++
		}
	}
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    depth,
		ActiveRuns:    active,
	})
}

// handleStartRun handles POST /runs.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if (req.Workflow == "") == (req.Content == "") {
		s.writeError(w, http.StatusBadRequest, "exactly one of workflow and content is required")
		return
	}

	opts := orchestrator.Options{
		Event:           req.Event,
		Ref:             req.Ref,
		Sha:             req.Sha,
		Repository:      req.Repository,
		RepositoryOwner: req.RepositoryOwner,
		Actor:           req.Actor,
		HeadRef:         req.HeadRef,
		BaseRef:         req.BaseRef,
		Payload:         req.Payload,
	}

	var (
		sess *orchestrator.Session
		err  error
	)
	if req.Workflow != "" {
		path, perr := s.resolveWorkflow(req.Workflow)
		if perr != nil {
			s.writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		opts.WorkflowFile = req.Workflow
		sess, err = s.engine.StartFile(r.Context(), path, opts)
	} else {
		name := req.FileName
		if name == "" {
			name = "inline.yml"
		}
		tctx := template.NewContext(s.config.Limits, log.NewTraceWriter(s.logger))
		p, lerr := pipeline.Load(tctx, name, []byte(req.Content))
		if lerr != nil {
			s.writeError(w, http.StatusUnprocessableEntity, lerr.Error())
			return
		}
		opts.WorkflowFile = name
		sess, err = s.engine.Start(r.Context(), p, opts)
	}

	switch {
	case err == nil:
	case errors.Is(err, orchestrator.ErrNotTriggered):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, orchestrator.ErrInvalidPipeline):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, fs.ErrNotExist):
		s.writeError(w, http.StatusNotFound, "workflow not found")
		return
	default:
		s.logger.Error("failed to start run", "error", err)
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, runFromSession(sess))
}

// resolveWorkflow maps a request path onto the workflow root.
func (s *Server) resolveWorkflow(p string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(p))
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("workflow path %q must be relative to the workflow root", p)
	}
	root := s.config.WorkflowRoot
	if root == "" {
		root = "."
	}
	return filepath.Join(root, clean), nil
}

// handleListRuns handles GET /runs.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	resp := RunListResponse{Runs: []RunResponse{}}
	if s.runs != nil {
		runs, err := s.runs.ListRuns(r.Context(), limit)
		if err != nil {
			s.logger.Error("failed to list runs", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to list runs")
			return
		}
		for _, run := range runs {
			resp.Runs = append(resp.Runs, runFromStore(run))
		}
		respondJSON(w, http.StatusOK, resp)
		return
	}

	sessions := s.engine.Sessions()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Info().RunNumber > sessions[j].Info().RunNumber
	})
	for _, sess := range sessions {
		if len(resp.Runs) == limit {
			break
		}
		run := runFromSession(sess)
		run.Jobs = nil
		resp.Runs = append(resp.Runs, run)
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetRun handles GET /runs/{runID}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")

	sess, live := s.engine.Session(id)
	if s.runs != nil {
		run, err := s.runs.GetRun(r.Context(), id)
		switch {
		case err == nil:
			resp := runFromStore(*run)
			if live {
				resp.Jobs = sess.Jobs()
			}
			respondJSON(w, http.StatusOK, resp)
			return
		case !errors.Is(err, state.ErrRunNotFound):
			s.logger.Error("failed to load run", "run_id", id, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to load run")
			return
		}
	}
	if !live {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	respondJSON(w, http.StatusOK, runFromSession(sess))
}

// handleCancelRun handles POST /runs/{runID}/cancel.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	// looked up first: a finished session may be dropped once cancelled
	sess, _ := s.engine.Session(id)
	if err := s.engine.Cancel(id); err != nil || sess == nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.logger.Info("run cancelled via API", "run_id", id)
	respondJSON(w, http.StatusAccepted, runFromSession(sess))
}

// handleAcquire handles POST /jobs/acquire. 204 means nothing matched.
func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var req AcquireRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	labels := make([]string, 0, len(req.Labels))
	for _, l := range req.Labels {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	if len(labels) == 0 {
		s.writeError(w, http.StatusBadRequest, "labels are required")
		return
	}

	job, err := s.jobs.Acquire(r.Context(), labels)
	if err != nil {
		s.logger.Error("failed to acquire job", "labels", labels, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to acquire job")
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.logger.Info("job acquired", "job_id", job.JobID, "run_id", job.RunID, "labels", labels)
	respondJSON(w, http.StatusOK, job)
}

// handleComplete handles POST /jobs/complete.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	c, err := protocol.DecodeCompletion(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.engine.Complete(r.Context(), *c)
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrRequestNotFound), errors.Is(err, orchestrator.ErrUnknownJob):
		s.writeError(w, http.StatusNotFound, "job not found or not acquired")
		return
	case errors.Is(err, orchestrator.ErrSessionClosed):
		s.writeError(w, http.StatusConflict, "run already finished")
		return
	default:
		s.logger.Error("failed to complete job", "job_id", c.JobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to complete job")
		return
	}
	respondJSON(w, http.StatusOK, CompleteResponse{JobID: c.JobID, Result: string(c.Result)})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
