package workspace

import (
	"context"
	"time"
)

// Workspace is the working directory of one job request on a worker host.
type Workspace struct {
	RunID string
	Job   string
	Dir   string
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Manager lays out job workspaces as <base>/<run id>/<job name>.
type Manager interface {
	// Prepare returns the workspace for job in runID, creating it when
	// missing. clean empties an existing workspace first.
	Prepare(ctx context.Context, runID, job string, clean bool) (Workspace, error)

	// Open resolves an existing workspace.
	Open(ctx context.Context, runID, job string) (Workspace, error)

	// Cleanup removes run directories older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
