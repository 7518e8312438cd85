package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// fsWorkspaceManager keeps job workspaces on local disk.
type fsWorkspaceManager struct {
	baseDir string
	now     func() time.Time
}

var _ Manager = (*fsWorkspaceManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager rooted at baseDir.
func NewFSManager(baseDir string) (*fsWorkspaceManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}

	return &fsWorkspaceManager{
		baseDir: filepath.Clean(trimmed),
		now:     time.Now,
	}, nil
}

func (m *fsWorkspaceManager) Prepare(ctx context.Context, runID, job string, clean bool) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(runID, job)
	if err != nil {
		return Workspace{}, err
	}

	if clean {
		if err := os.RemoveAll(path); err != nil {
			return Workspace{}, fmt.Errorf("clean workspace for %s/%s: %w", runID, job, err)
		}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace for %s/%s: %w", runID, job, err)
	}
	// Touch the run directory so Cleanup measures age from the last job.
	now := m.now()
	if err := os.Chtimes(filepath.Dir(path), now, now); err != nil {
		return Workspace{}, fmt.Errorf("touch run directory %s: %w", runID, err)
	}

	return Workspace{RunID: runID, Job: job, Dir: path}, nil
}

func (m *fsWorkspaceManager) Open(ctx context.Context, runID, job string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(runID, job)
	if err != nil {
		return Workspace{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Workspace{}, fmt.Errorf("open workspace for %s/%s: %w", runID, job, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace path for %s/%s is not a directory", runID, job)
	}

	return Workspace{RunID: runID, Job: job, Dir: path}, nil
}

// Cleanup removes run directories whose modification time is older than
// olderThan.
func (m *fsWorkspaceManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(filepath.Join(m.baseDir, entry.Name())); err != nil {
			return report, fmt.Errorf("remove run workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

func (m *fsWorkspaceManager) workspacePath(runID, job string) (string, error) {
	if err := validateSegment("run id", runID); err != nil {
		return "", err
	}
	if err := validateSegment("job name", job); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, runID, job), nil
}

func validateSegment(what, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s is empty", what)
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("%s %q is invalid", what, value)
	}
	if strings.ContainsAny(trimmed, `/\`) {
		return fmt.Errorf("%s %q must not contain path separators", what, value)
	}
	if filepath.Clean(trimmed) != trimmed || trimmed != value {
		return fmt.Errorf("%s %q is invalid", what, value)
	}
	return nil
}
