// Package scheduler runs the server's housekeeping: on startup it closes
// runs that a previous process left running, and on every tick it removes
// expired workspaces and completion history.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/mattjoyce/runway/internal/events"
	"github.com/mattjoyce/runway/internal/state"
	"github.com/mattjoyce/runway/internal/workspace"
)

// RecoveredResult is recorded for runs closed by crash recovery.
const RecoveredResult = "cancelled"

// Config controls the tick loop. Zero retentions disable that cleanup.
type Config struct {
	Interval           time.Duration
	Jitter             time.Duration
	WorkspaceRetention time.Duration
	HistoryRetention   time.Duration
}

// Scheduler manages crash recovery and periodic cleanup.
type Scheduler struct {
	cfg        Config
	runs       RunStore
	queue      QueueService
	workspaces workspace.Manager
	events     events.Publisher
	logger     *slog.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates a new Scheduler. workspaces and pub may be nil.
func New(cfg Config, runs RunStore, q QueueService, workspaces workspace.Manager, pub events.Publisher, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if pub == nil {
		pub = events.NewHub(16)
	}
	return &Scheduler{
		cfg:        cfg,
		runs:       runs,
		queue:      q,
		workspaces: workspaces,
		events:     pub,
		logger:     logger.With("component", "scheduler"),
		stopCh:     make(chan struct{}),
	}
}

// Start performs crash recovery and begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("starting scheduler", "interval", s.cfg.Interval)

	if err := s.recoverOrphanedRuns(ctx); err != nil {
		return fmt.Errorf("scheduler crash recovery failed: %w", err)
	}

	s.wg.Add(1)
	go s.tickLoop(ctx)
	return nil
}

// Stop ends the tick loop and waits for it.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	s.tick(ctx)
	for {
		timer := time.NewTimer(calculateJitteredInterval(s.cfg.Interval, s.cfg.Jitter))
		select {
		case <-timer.C:
			s.tick(ctx)
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// tick performs a single cleanup pass. Failures are logged and retried on
// the next tick.
func (s *Scheduler) tick(ctx context.Context) {
	s.logger.Debug("scheduler tick")

	if s.workspaces != nil && s.cfg.WorkspaceRetention > 0 {
		report, err := s.workspaces.Cleanup(ctx, s.cfg.WorkspaceRetention)
		if err != nil {
			s.logger.Error("workspace cleanup failed", "error", err)
		} else if report.DeletedDirs > 0 {
			s.logger.Info("expired workspaces removed", "count", report.DeletedDirs, "retention", s.cfg.WorkspaceRetention)
		}
	}

	if s.cfg.HistoryRetention > 0 {
		n, err := s.queue.PruneHistory(ctx, s.cfg.HistoryRetention)
		if err != nil {
			s.logger.Error("history pruning failed", "error", err)
		} else if n > 0 {
			s.logger.Info("completion history pruned", "rows", n, "retention", s.cfg.HistoryRetention)
		}
	}
}

// recoverOrphanedRuns closes runs still marked running. Sessions live in
// memory, so at startup no such run can make progress: its queued requests
// are dropped and the run is finished as cancelled.
func (s *Scheduler) recoverOrphanedRuns(ctx context.Context) error {
	runs, err := s.runs.ListRunsByStatus(ctx, state.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to find running runs for recovery: %w", err)
	}
	if len(runs) == 0 {
		s.logger.Debug("no orphaned runs found")
		return nil
	}

	s.logger.Warn("found orphaned runs, closing them", "count", len(runs))
	for _, r := range runs {
		dropped, err := s.queue.Drop(ctx, r.ID)
		if err != nil {
			s.logger.Error("failed to drop requests of orphaned run", "run_id", r.ID, "error", err)
			continue
		}
		if err := s.runs.FinishRun(ctx, r.ID, RecoveredResult); err != nil {
			s.logger.Error("failed to finish orphaned run", "run_id", r.ID, "error", err)
			continue
		}
		s.logger.Warn("orphaned run closed",
			"run_id", r.ID,
			"workflow", r.Workflow,
			"run_number", r.RunNumber,
			"dropped_requests", len(dropped),
		)
		s.events.Publish(events.RunCompleted, events.RunData{
			RunID:      r.ID,
			Workflow:   r.Workflow,
			Repository: r.Repository,
			Event:      r.Event,
			Ref:        r.Ref,
			RunNumber:  r.RunNumber,
			Result:     RecoveredResult,
		})
	}
	return nil
}

// calculateJitteredInterval adds a random jitter in [0, jitter) to base.
func calculateJitteredInterval(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(jitter.Nanoseconds()))
}
