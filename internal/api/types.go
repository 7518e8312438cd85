package api

import (
	"time"

	"github.com/mattjoyce/runway/internal/orchestrator"
	"github.com/mattjoyce/runway/internal/state"
)

// StartRunRequest is the JSON body for POST /runs. Exactly one of Workflow
// and Content is set.
type StartRunRequest struct {
	// Workflow is a path below the server's workflow root.
	Workflow string `json:"workflow,omitempty"`
	// Content is an inline workflow document; FileName picks the reader
	// (".json" or YAML) and names the workflow.
	Content  string `json:"content,omitempty"`
	FileName string `json:"file_name,omitempty"`

	Event           string         `json:"event,omitempty"`
	Ref             string         `json:"ref,omitempty"`
	Sha             string         `json:"sha,omitempty"`
	Repository      string         `json:"repository,omitempty"`
	RepositoryOwner string         `json:"repository_owner,omitempty"`
	Actor           string         `json:"actor,omitempty"`
	HeadRef         string         `json:"head_ref,omitempty"`
	BaseRef         string         `json:"base_ref,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
}

// RunResponse describes one run. Jobs is only present while the session is
// held in memory.
type RunResponse struct {
	ID          string                    `json:"id"`
	Workflow    string                    `json:"workflow"`
	Repository  string                    `json:"repository,omitempty"`
	Event       string                    `json:"event,omitempty"`
	Ref         string                    `json:"ref,omitempty"`
	RunNumber   int64                     `json:"run_number"`
	Status      string                    `json:"status"`
	Result      string                    `json:"result,omitempty"`
	StartedAt   *time.Time                `json:"started_at,omitempty"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
	Jobs        []orchestrator.JobSummary `json:"jobs,omitempty"`
}

// RunListResponse is returned by GET /runs.
type RunListResponse struct {
	Runs []RunResponse `json:"runs"`
}

// AcquireRequest is the JSON body for POST /jobs/acquire.
type AcquireRequest struct {
	Labels []string `json:"labels"`
}

// CompleteResponse acknowledges POST /jobs/complete.
type CompleteResponse struct {
	JobID  string `json:"job_id"`
	Result string `json:"result"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	ActiveRuns    int    `json:"active_runs"`
}

func runFromStore(r state.Run) RunResponse {
	started := r.StartedAt
	return RunResponse{
		ID:          r.ID,
		Workflow:    r.Workflow,
		Repository:  r.Repository,
		Event:       r.Event,
		Ref:         r.Ref,
		RunNumber:   r.RunNumber,
		Status:      r.Status,
		Result:      r.Result,
		StartedAt:   &started,
		CompletedAt: r.CompletedAt,
	}
}

func runFromSession(s *orchestrator.Session) RunResponse {
	info := s.Info()
	status := state.RunRunning
	if info.Result != "" {
		status = state.RunCompleted
	}
	return RunResponse{
		ID:         info.RunID,
		Workflow:   info.Workflow,
		Repository: info.Repository,
		Event:      info.Event,
		Ref:        info.Ref,
		RunNumber:  info.RunNumber,
		Status:     status,
		Result:     info.Result,
		Jobs:       s.Jobs(),
	}
}
