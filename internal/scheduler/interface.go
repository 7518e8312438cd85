package scheduler

import (
	"context"
	"time"

	"github.com/mattjoyce/runway/internal/state"
)

//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks github.com/mattjoyce/runway/internal/scheduler RunStore,QueueService

// RunStore is the part of state.Store the scheduler needs.
type RunStore interface {
	ListRunsByStatus(ctx context.Context, status string) ([]state.Run, error)
	FinishRun(ctx context.Context, id, result string) error
}

// QueueService is the part of queue.SQLiteQueue the scheduler needs.
type QueueService interface {
	Drop(ctx context.Context, runID string) ([]string, error)
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
