package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohae/deepcopy"

	"github.com/mattjoyce/runway/internal/protocol"
)

// MemoryQueue is an in-process Queue. Requests are copied on the way in
// and out so callers never share state with the queue.
type MemoryQueue struct {
	mu      sync.Mutex
	queued  []*protocol.JobRequest
	records map[string]*Record
}

func NewMemory() *MemoryQueue {
	return &MemoryQueue{records: make(map[string]*Record)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, req *protocol.JobRequest) error {
	if req.JobID == "" {
		return fmt.Errorf("job id is empty")
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.records[req.JobID]; exists {
		return fmt.Errorf("enqueue job request: duplicate job id %s", req.JobID)
	}
	q.queued = append(q.queued, deepcopy.Copy(req).(*protocol.JobRequest))
	q.records[req.JobID] = &Record{
		JobID:      req.JobID,
		RunID:      req.RunID,
		JobName:    req.JobName,
		Status:     StatusQueued,
		EnqueuedAt: req.EnqueuedAt,
	}
	return nil
}

func (q *MemoryQueue) Acquire(_ context.Context, labels []string) (*protocol.JobRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, req := range q.queued {
		if !Matches(req.Labels, labels) {
			continue
		}
		q.queued = append(q.queued[:i], q.queued[i+1:]...)
		now := time.Now().UTC()
		rec := q.records[req.JobID]
		rec.Status = StatusAcquired
		rec.AcquiredAt = &now
		return req, nil
	}
	return nil, nil
}

func (q *MemoryQueue) Complete(_ context.Context, c protocol.Completion) (*Record, error) {
	if !c.Result.Valid() {
		return nil, fmt.Errorf("invalid result: %q", c.Result)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[c.JobID]
	if !ok || rec.Status != StatusAcquired {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, c.JobID)
	}
	now := time.Now().UTC()
	rec.Status = StatusCompleted
	rec.Result = c.Result
	rec.CompletedAt = &now
	out := *rec
	return &out, nil
}

func (q *MemoryQueue) Drop(_ context.Context, runID string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids []string
	kept := q.queued[:0]
	for _, req := range q.queued {
		if req.RunID == runID {
			ids = append(ids, req.JobID)
			delete(q.records, req.JobID)
			continue
		}
		kept = append(kept, req)
	}
	q.queued = kept
	return ids, nil
}

func (q *MemoryQueue) Depth(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued), nil
}
