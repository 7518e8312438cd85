package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/runway/internal/events"
	"github.com/mattjoyce/runway/internal/scheduler/mocks"
	"github.com/mattjoyce/runway/internal/state"
	"github.com/mattjoyce/runway/internal/workspace"
)

// TestLogBuffer captures log output.
type TestLogBuffer struct {
	bytes.Buffer
}

// NewTestSlogger creates a *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func TestCalculateJitteredInterval(t *testing.T) {
	tests := []struct {
		name         string
		baseInterval time.Duration
		jitter       time.Duration
	}{
		{name: "No Jitter", baseInterval: 1 * time.Minute, jitter: 0},
		{name: "Positive Jitter", baseInterval: 5 * time.Minute, jitter: 30 * time.Second},
		{name: "Large Jitter", baseInterval: 1 * time.Hour, jitter: 15 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 100 {
				jittered := calculateJitteredInterval(tt.baseInterval, tt.jitter)
				if tt.jitter == 0 {
					assert.Equal(t, tt.baseInterval, jittered)
				} else {
					assert.GreaterOrEqual(t, jittered, tt.baseInterval)
					assert.Less(t, jittered, tt.baseInterval+tt.jitter)
				}
			}
		})
	}
}

func TestRecoverOrphanedRuns(t *testing.T) {
	ctrl := gomock.NewController(t)
	runs := mocks.NewMockRunStore(ctrl)
	q := mocks.NewMockQueueService(ctrl)
	hub := events.NewHub(10)
	logger, buf := NewTestSlogger()

	orphans := []state.Run{
		{ID: "r1", Workflow: "CI", RunNumber: 3, Status: state.RunRunning},
		{ID: "r2", Workflow: "Deploy", RunNumber: 1, Status: state.RunRunning},
	}
	gomock.InOrder(
		runs.EXPECT().ListRunsByStatus(gomock.Any(), state.RunRunning).Return(orphans, nil),
		q.EXPECT().Drop(gomock.Any(), "r1").Return([]string{"j1", "j2"}, nil),
		runs.EXPECT().FinishRun(gomock.Any(), "r1", RecoveredResult).Return(nil),
		q.EXPECT().Drop(gomock.Any(), "r2").Return(nil, errors.New("disk full")),
	)

	s := New(Config{}, runs, q, nil, hub, logger)
	require.NoError(t, s.recoverOrphanedRuns(context.Background()))

	evs := hub.SnapshotSince(0)
	require.Len(t, evs, 1)
	assert.Equal(t, events.RunCompleted, evs[0].Type)
	assert.Contains(t, string(evs[0].Data), `"run_id":"r1"`)
	assert.Contains(t, string(evs[0].Data), `"result":"cancelled"`)
	assert.Contains(t, buf.String(), "failed to drop requests of orphaned run")
}

func TestRecoverOrphanedRunsListError(t *testing.T) {
	ctrl := gomock.NewController(t)
	runs := mocks.NewMockRunStore(ctrl)
	q := mocks.NewMockQueueService(ctrl)
	runs.EXPECT().ListRunsByStatus(gomock.Any(), state.RunRunning).Return(nil, errors.New("locked"))

	logger, _ := NewTestSlogger()
	s := New(Config{}, runs, q, nil, nil, logger)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crash recovery")
}

func TestTickCleansWorkspacesAndHistory(t *testing.T) {
	ctrl := gomock.NewController(t)
	runs := mocks.NewMockRunStore(ctrl)
	q := mocks.NewMockQueueService(ctrl)
	q.EXPECT().PruneHistory(gomock.Any(), 48*time.Hour).Return(int64(3), nil)

	base := t.TempDir()
	ws, err := workspace.NewFSManager(base)
	require.NoError(t, err)
	old, err := ws.Prepare(context.Background(), "old-run", "build", false)
	require.NoError(t, err)
	_, err = ws.Prepare(context.Background(), "new-run", "build", false)
	require.NoError(t, err)
	past := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Dir(old.Dir), past, past))

	logger, buf := NewTestSlogger()
	s := New(Config{WorkspaceRetention: 24 * time.Hour, HistoryRetention: 48 * time.Hour}, runs, q, ws, nil, logger)
	s.tick(context.Background())

	_, err = os.Stat(filepath.Join(base, "old-run"))
	assert.True(t, os.IsNotExist(err), "old run workspace should be removed")
	_, err = os.Stat(filepath.Join(base, "new-run"))
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "completion history pruned")
}

func TestTickWithRetentionDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	// No expectations: zero retentions must not touch the queue.
	s := New(Config{}, mocks.NewMockRunStore(ctrl), mocks.NewMockQueueService(ctrl), nil, nil, slog.Default())
	s.tick(context.Background())
}

func TestStartAndStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	runs := mocks.NewMockRunStore(ctrl)
	q := mocks.NewMockQueueService(ctrl)
	runs.EXPECT().ListRunsByStatus(gomock.Any(), state.RunRunning).Return(nil, nil)
	q.EXPECT().PruneHistory(gomock.Any(), time.Hour).Return(int64(0), nil).MinTimes(1)

	logger, _ := NewTestSlogger()
	s := New(Config{Interval: 10 * time.Millisecond, HistoryRetention: time.Hour}, runs, q, nil, nil, logger)
	require.NoError(t, s.Start(context.Background()))
	time.Sleep(35 * time.Millisecond)
	s.Stop()
	s.Stop()
}
