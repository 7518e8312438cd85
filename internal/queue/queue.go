package queue

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/runway/internal/protocol"
)

// SQLiteQueue persists requests in the job_request table and appends a
// job_log row per completion.
type SQLiteQueue struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLiteQueue {
	return &SQLiteQueue{db: db}
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, req *protocol.JobRequest) error {
	if req.JobID == "" {
		return fmt.Errorf("job id is empty")
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now().UTC()
	}

	var payload bytes.Buffer
	if err := protocol.EncodeRequest(&payload, req); err != nil {
		return err
	}
	labels, err := json.Marshal(labelsOrEmpty(req.Labels))
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
INSERT INTO job_request(id, run_id, job_name, labels, payload, status, enqueued_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, req.JobID, req.RunID, req.JobName, string(labels), payload.String(), StatusQueued, req.EnqueuedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("enqueue job request: %w", err)
	}
	return nil
}

// Acquire scans queued requests oldest first and claims the first one the
// labels satisfy.
func (q *SQLiteQueue) Acquire(ctx context.Context, labels []string) (*protocol.JobRequest, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
SELECT id, labels, payload
FROM job_request
WHERE status = ?
ORDER BY seq ASC;
`, StatusQueued)
	if err != nil {
		return nil, fmt.Errorf("scan job requests: %w", err)
	}

	var (
		id      string
		payload string
		found   bool
	)
	for rows.Next() {
		var rawLabels string
		if err := rows.Scan(&id, &rawLabels, &payload); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan job request: %w", err)
		}
		var want []string
		if err := json.Unmarshal([]byte(rawLabels), &want); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("decode labels of %s: %w", id, err)
		}
		if Matches(want, labels) {
			found = true
			break
		}
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close job request scan: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan job requests: %w", err)
	}
	if !found {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
UPDATE job_request SET status = ?, acquired_at = ? WHERE id = ? AND status = ?;
`, StatusAcquired, now, id, StatusQueued); err != nil {
		return nil, fmt.Errorf("acquire job request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit acquire: %w", err)
	}

	req, err := protocol.DecodeRequest(bytes.NewReader([]byte(payload)))
	if err != nil {
		return nil, fmt.Errorf("decode job request %s: %w", id, err)
	}
	return req, nil
}

// Complete marks a request terminal and appends a row to job_log.
func (q *SQLiteQueue) Complete(ctx context.Context, c protocol.Completion) (*Record, error) {
	if c.JobID == "" {
		return nil, fmt.Errorf("job id is empty")
	}
	if !c.Result.Valid() {
		return nil, fmt.Errorf("invalid result: %q", c.Result)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		rec         = Record{JobID: c.JobID, Status: StatusCompleted, Result: c.Result}
		status      string
		enqueuedAtS string
		acquiredAtS sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
SELECT run_id, job_name, status, enqueued_at, acquired_at
FROM job_request
WHERE id = ?;
`, c.JobID).Scan(&rec.RunID, &rec.JobName, &status, &enqueuedAtS, &acquiredAtS)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && Status(status) != StatusAcquired) {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, c.JobID)
	}
	if err != nil {
		return nil, fmt.Errorf("load job request for completion: %w", err)
	}

	now := time.Now().UTC()
	nowS := now.Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
UPDATE job_request SET status = ?, completed_at = ?, result = ? WHERE id = ?;
`, StatusCompleted, nowS, c.Result, c.JobID); err != nil {
		return nil, fmt.Errorf("update job request completion: %w", err)
	}

	outputs, err := json.Marshal(outputsOrEmpty(c.Outputs))
	if err != nil {
		return nil, fmt.Errorf("encode outputs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO job_log(id, run_id, job_name, result, outputs, enqueued_at, completed_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, c.JobID, rec.RunID, rec.JobName, c.Result, string(outputs), enqueuedAtS, nowS); err != nil {
		return nil, fmt.Errorf("insert job_log: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit completion: %w", err)
	}

	if t, err := time.Parse(time.RFC3339Nano, enqueuedAtS); err == nil {
		rec.EnqueuedAt = t
	}
	if acquiredAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, acquiredAtS.String); err == nil {
			rec.AcquiredAt = &t
		}
	}
	rec.CompletedAt = &now
	return &rec, nil
}

func (q *SQLiteQueue) Drop(ctx context.Context, runID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
DELETE FROM job_request WHERE run_id = ? AND status = ?
RETURNING id;
`, runID, StatusQueued)
	if err != nil {
		return nil, fmt.Errorf("drop job requests: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dropped id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q *SQLiteQueue) Depth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM job_request WHERE status = ?;", StatusQueued).Scan(&n); err != nil {
		return 0, fmt.Errorf("count job requests: %w", err)
	}
	return n, nil
}

// History returns the completed records of a run in completion order.
func (q *SQLiteQueue) History(ctx context.Context, runID string) ([]Record, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT id, job_name, result, enqueued_at, completed_at
FROM job_log
WHERE run_id = ?
ORDER BY completed_at ASC, rowid ASC;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query job_log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec := Record{RunID: runID, Status: StatusCompleted}
		var result, enqueued, completed string
		if err := rows.Scan(&rec.JobID, &rec.JobName, &result, &enqueued, &completed); err != nil {
			return nil, fmt.Errorf("scan job_log: %w", err)
		}
		rec.Result = protocol.TaskResult(result)
		if t, err := time.Parse(time.RFC3339Nano, enqueued); err == nil {
			rec.EnqueuedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, completed); err == nil {
			rec.CompletedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneHistory deletes job_log rows completed more than olderThan ago.
// Timestamps compare as RFC 3339 text, which is exact to the second.
func (q *SQLiteQueue) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	res, err := q.db.ExecContext(ctx, "DELETE FROM job_log WHERE completed_at < ?;", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune job_log: %w", err)
	}
	return res.RowsAffected()
}

func labelsOrEmpty(labels []string) []string {
	if labels == nil {
		return []string{}
	}
	return labels
}

func outputsOrEmpty(outputs map[string]string) map[string]string {
	if outputs == nil {
		return map[string]string{}
	}
	return outputs
}
