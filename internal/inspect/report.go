// Package inspect renders what the state database and the workspace
// directory know about a single run.
package inspect

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/runway/internal/state"
)

// Report is the structured JSON representation of a run report.
type Report struct {
	RunID       string     `json:"run_id"`
	RunNumber   int64      `json:"run_number"`
	Repository  string     `json:"repository"`
	Workflow    string     `json:"workflow"`
	Event       string     `json:"event"`
	Ref         string     `json:"ref"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	Status      string     `json:"status"`
	Result      string     `json:"result,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
	Jobs        []Job      `json:"jobs"`
}

// Job is one job request of the run.
type Job struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Status        string            `json:"status"`
	Result        string            `json:"result,omitempty"`
	EnqueuedAt    time.Time         `json:"enqueued_at"`
	AcquiredAt    *time.Time        `json:"acquired_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	Outputs       map[string]string `json:"outputs,omitempty"`
	WorkspacePath string            `json:"workspace_path,omitempty"`
	Artifacts     []string          `json:"artifacts,omitempty"`
}

// BuildReport renders a terminal-friendly report for a run. workspaceDir
// may be empty when the host keeps no workspaces.
func BuildReport(ctx context.Context, db *sql.DB, workspaceDir, runID string) (string, error) {
	report, err := gatherReportData(ctx, db, workspaceDir, runID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Run Report\n")
	fmt.Fprintf(&out, "Run ID      : %s\n", report.RunID)
	fmt.Fprintf(&out, "Run Number  : %d\n", report.RunNumber)
	fmt.Fprintf(&out, "Repository  : %s\n", renderUnset(report.Repository, "<none>"))
	fmt.Fprintf(&out, "Workflow    : %s\n", report.Workflow)
	fmt.Fprintf(&out, "Event       : %s\n", report.Event)
	fmt.Fprintf(&out, "Ref         : %s\n", renderUnset(report.Ref, "<none>"))
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Result      : %s\n", renderUnset(report.Result, "<pending>"))
	fmt.Fprintf(&out, "Started     : %s\n", report.StartedAt.Format(time.RFC3339))
	if report.Duration != "" {
		fmt.Fprintf(&out, "Duration    : %s\n", report.Duration)
	}
	fmt.Fprintf(&out, "Jobs        : %d\n", len(report.Jobs))
	fmt.Fprintf(&out, "\n")

	for i, job := range report.Jobs {
		fmt.Fprintf(&out, "[%d] %s\n", i+1, job.Name)
		fmt.Fprintf(&out, "    job_id     : %s\n", job.ID)
		fmt.Fprintf(&out, "    status     : %s\n", job.Status)
		fmt.Fprintf(&out, "    result     : %s\n", renderUnset(job.Result, "<pending>"))
		if len(job.Outputs) == 0 {
			fmt.Fprintf(&out, "    outputs    : <none>\n")
		} else {
			fmt.Fprintf(&out, "    outputs    :\n")
			keys := make([]string, 0, len(job.Outputs))
			for k := range job.Outputs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&out, "      %s = %s\n", k, job.Outputs[k])
			}
		}
		if job.WorkspacePath == "" {
			fmt.Fprintf(&out, "    workspace  : <unknown>\n")
			fmt.Fprintf(&out, "\n")
			continue
		}
		fmt.Fprintf(&out, "    workspace  : %s\n", job.WorkspacePath)
		if len(job.Artifacts) == 0 {
			fmt.Fprintf(&out, "    artifacts  : <none>\n")
		} else {
			fmt.Fprintf(&out, "    artifacts  :\n")
			for _, artifact := range job.Artifacts {
				fmt.Fprintf(&out, "      - %s\n", artifact)
			}
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON run report.
func BuildJSONReport(ctx context.Context, db *sql.DB, workspaceDir, runID string) (string, error) {
	report, err := gatherReportData(ctx, db, workspaceDir, runID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, db *sql.DB, workspaceDir, runID string) (*Report, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id is required")
	}

	run, err := state.NewStore(db).GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, state.ErrRunNotFound) {
			return nil, fmt.Errorf("run %q not found", runID)
		}
		return nil, fmt.Errorf("load run %q: %w", runID, err)
	}

	report := &Report{
		RunID:       run.ID,
		RunNumber:   run.RunNumber,
		Repository:  run.Repository,
		Workflow:    run.Workflow,
		Event:       run.Event,
		Ref:         run.Ref,
		Fingerprint: run.Fingerprint,
		Status:      run.Status,
		Result:      run.Result,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}
	if run.CompletedAt != nil {
		report.Duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
	}

	jobs, err := lookupJobs(ctx, db, runID)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		if workspaceDir == "" {
			continue
		}
		path := filepath.Join(workspaceDir, runID, jobs[i].Name)
		artifacts, err := listArtifacts(path)
		if err != nil || artifacts == nil {
			continue
		}
		jobs[i].WorkspacePath = path
		jobs[i].Artifacts = artifacts
	}
	report.Jobs = jobs

	return report, nil
}

// lookupJobs reads the run's requests in enqueue order, joined with the
// completion log for outputs. Requests dropped by a cancel are gone.
func lookupJobs(ctx context.Context, db *sql.DB, runID string) ([]Job, error) {
	rows, err := db.QueryContext(ctx, `
SELECT r.id, r.job_name, r.status, r.result, r.enqueued_at, r.acquired_at, r.completed_at, l.outputs
FROM job_request r
LEFT JOIN job_log l ON l.id = r.id
WHERE r.run_id = ?
ORDER BY r.seq ASC;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query jobs of run %q: %w", runID, err)
	}
	defer rows.Close()

	jobs := make([]Job, 0)
	for rows.Next() {
		var (
			job                             Job
			result, acquired, completed, ou sql.NullString
			enqueued                        string
		)
		if err := rows.Scan(&job.ID, &job.Name, &job.Status, &result, &enqueued, &acquired, &completed, &ou); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.Result = result.String
		job.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, enqueued)
		job.AcquiredAt = parseNullTime(acquired)
		job.CompletedAt = parseNullTime(completed)
		if ou.Valid && ou.String != "" {
			if err := json.Unmarshal([]byte(ou.String), &job.Outputs); err != nil {
				return nil, fmt.Errorf("decode outputs of %s: %w", job.ID, err)
			}
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func listArtifacts(workspaceDir string) ([]string, error) {
	if _, err := os.Stat(workspaceDir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	artifacts := make([]string, 0)
	err := filepath.WalkDir(workspaceDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == workspaceDir || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(workspaceDir, path)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(artifacts)
	return artifacts, nil
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
