package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
)

var ErrRunNotFound = errors.New("run not found")

// Run is the stored summary of one workflow run.
type Run struct {
	ID          string     `json:"id"`
	Repository  string     `json:"repository"`
	Workflow    string     `json:"workflow"`
	Event       string     `json:"event"`
	Ref         string     `json:"ref"`
	RunNumber   int64      `json:"run_number"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	Status      string     `json:"status"`
	Result      string     `json:"result,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CreateRun inserts r with status running.
func (s *Store) CreateRun(ctx context.Context, r Run) error {
	if r.ID == "" {
		return fmt.Errorf("run id is empty")
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	var fingerprint any
	if r.Fingerprint != "" {
		fingerprint = r.Fingerprint
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO run(id, repository, workflow, event, ref, run_number, fingerprint, status, started_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, r.ID, r.Repository, r.Workflow, r.Event, r.Ref, r.RunNumber, fingerprint, RunRunning, r.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun marks a run completed with result.
func (s *Store) FinishRun(ctx context.Context, id, result string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
UPDATE run SET status = ?, result = ?, completed_at = ? WHERE id = ?;
`, RunCompleted, result, now, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, repository, workflow, event, ref, run_number, fingerprint, status, result, started_at, completed_at
FROM run
WHERE id = ?;
`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, repository, workflow, event, ref, run_number, fingerprint, status, result, started_at, completed_at
FROM run
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ListRunsByStatus returns every run with status, oldest first.
func (s *Store) ListRunsByStatus(ctx context.Context, status string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, repository, workflow, event, ref, run_number, fingerprint, status, result, started_at, completed_at
FROM run
WHERE status = ?
ORDER BY started_at ASC, rowid ASC;
`, status)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r                   Run
		fingerprint, result sql.NullString
		startedAt           string
		completedAt         sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Repository, &r.Workflow, &r.Event, &r.Ref, &r.RunNumber, &fingerprint, &r.Status, &result, &startedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Fingerprint = fingerprint.String
	r.Result = result.String
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		r.StartedAt = t
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
			r.CompletedAt = &t
		}
	}
	return &r, nil
}
