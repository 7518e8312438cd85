package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattjoyce/runway/internal/log"
	"github.com/mattjoyce/runway/internal/protocol"
	"github.com/mattjoyce/runway/internal/workspace"
)

// maxStderrBytes caps the amount of stderr captured from an executor.
const maxStderrBytes = 64 * 1024

// errTimedOut marks an executor killed for running past its timeout.
var errTimedOut = errors.New("executor timed out")

// ExecWorker runs each request in its own executor process.
type ExecWorker struct {
	// Entrypoint and Args name the executor.
	Entrypoint string
	Args       []string
	// Workspaces, when set, provides the executor's working directory.
	Workspaces workspace.Manager
	// Timeout and GracePeriod override the request's timeout-minutes and
	// cancel-timeout-minutes when positive.
	Timeout     time.Duration
	GracePeriod time.Duration
}

func (w *ExecWorker) Run(ctx context.Context, req *protocol.JobRequest) (protocol.Completion, error) {
	logger := log.WithJob(req.JobID).With("job", req.JobName)

	dir := ""
	if w.Workspaces != nil {
		ws, err := w.Workspaces.Prepare(ctx, req.RunID, req.JobName, req.Workspace.Clean)
		if err != nil {
			return protocol.Completion{}, fmt.Errorf("prepare workspace: %w", err)
		}
		dir = ws.Dir
	}

	timeout := w.Timeout
	if timeout <= 0 {
		timeout = time.Duration(req.TimeoutInMinutes) * time.Minute
	}
	grace := w.GracePeriod
	if grace <= 0 {
		grace = time.Duration(req.CancelTimeoutInMinutes) * time.Minute
	}

	stdout, stderr, err := w.spawn(ctx, req, dir, timeout, grace, logger)
	if stderr != "" {
		logger.Debug("executor stderr", "stderr", stderr)
	}
	if errors.Is(err, errTimedOut) {
		logger.Warn("job timed out", "timeout", timeout)
		return protocol.Completion{JobID: req.JobID, Result: protocol.ResultCanceled}, nil
	}
	if err != nil {
		return protocol.Completion{}, err
	}

	c, err := decodeCompletionLenient(stdout)
	if err != nil {
		return protocol.Completion{}, err
	}
	c.JobID = req.JobID
	return c, nil
}

// spawn starts the executor, writes req to its stdin and waits for it.
// Cancelling ctx or passing timeout sends SIGTERM, then SIGKILL after grace.
func (w *ExecWorker) spawn(ctx context.Context, req *protocol.JobRequest, dir string, timeout, grace time.Duration, logger *slog.Logger) ([]byte, string, error) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	// Termination is managed here rather than through CommandContext.
	cmd := exec.Command(w.Entrypoint, w.Args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"RUNWAY_RUN_ID="+req.RunID,
		"RUNWAY_JOB_ID="+req.JobID,
		"RUNWAY_JOB_NAME="+req.JobName,
		"RUNWAY_WORKSPACE="+dir,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning executor", "entrypoint", w.Entrypoint, "timeout", timeout, "dir", dir)
	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start executor: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		writeErr <- protocol.EncodeRequest(stdin, req)
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var stopErr error
	select {
	case <-timeoutC:
		stopErr = errTimedOut
	case <-ctx.Done():
		stopErr = ctx.Err()
	case err := <-waitErr:
		errStr := truncateStderr(stderr.String())
		if werr := <-writeErr; werr != nil {
			logger.Warn("executor did not read the full request", "error", werr)
		}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, errStr, fmt.Errorf("wait for executor: %w", err)
			}
			// The completion on stdout decides the result.
			logger.Warn("executor exited with non-zero status", "exit_code", exitErr.ExitCode())
		}
		return stdout.Bytes(), errStr, nil
	}

	logger.Warn("stopping executor, sending SIGTERM", "reason", stopErr)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}
	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()
	select {
	case <-waitErr:
		logger.Info("executor exited after SIGTERM")
	case <-graceTimer.C:
		logger.Warn("executor did not exit after SIGTERM, sending SIGKILL")
		if err := cmd.Process.Kill(); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
	return nil, truncateStderr(stderr.String()), stopErr
}

// decodeCompletionLenient reads the last JSON object line of out. Executors
// may log freely before it.
func decodeCompletionLenient(out []byte) (protocol.Completion, error) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var c protocol.Completion
		if err := json.Unmarshal(line, &c); err != nil {
			return protocol.Completion{}, fmt.Errorf("decode completion: %w", err)
		}
		return c, nil
	}
	return protocol.Completion{}, fmt.Errorf("executor wrote no completion (%d bytes of output)", len(out))
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
