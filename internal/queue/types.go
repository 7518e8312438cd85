// Package queue holds job requests until a worker with matching labels
// acquires them.
package queue

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/mattjoyce/runway/internal/protocol"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusAcquired  Status = "acquired"
	StatusCompleted Status = "completed"
)

// ErrRequestNotFound is returned when a job id does not name an acquired
// request.
var ErrRequestNotFound = errors.New("job request not found")

// Queue is a concurrency-safe FIFO of job requests.
type Queue interface {
	// Enqueue appends req. req.JobID must be set and unique.
	Enqueue(ctx context.Context, req *protocol.JobRequest) error
	// Acquire claims the oldest queued request whose labels are all among
	// labels. It returns (nil, nil) when nothing matches.
	Acquire(ctx context.Context, labels []string) (*protocol.JobRequest, error)
	// Complete marks an acquired request done and records its result.
	Complete(ctx context.Context, c protocol.Completion) (*Record, error)
	// Drop removes every queued request of a run and returns their ids.
	Drop(ctx context.Context, runID string) ([]string, error)
	// Depth counts queued requests.
	Depth(ctx context.Context) (int, error)
}

// Record is the lightweight projection of a request kept after completion.
type Record struct {
	JobID       string
	RunID       string
	JobName     string
	Status      Status
	Result      protocol.TaskResult
	EnqueuedAt  time.Time
	AcquiredAt  *time.Time
	CompletedAt *time.Time
}

// AnyLabel offered by a worker matches every request.
const AnyLabel = "*"

// Matches reports whether a worker offering labels can run a request that
// requires want. Labels compare case-insensitively.
func Matches(want, labels []string) bool {
	if slices.Contains(labels, AnyLabel) {
		return true
	}
	for _, w := range want {
		found := false
		for _, l := range labels {
			if strings.EqualFold(w, l) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
