package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/mattjoyce/runway/internal/dispatch/mocks"
	"github.com/mattjoyce/runway/internal/log"
	"github.com/mattjoyce/runway/internal/orchestrator"
	"github.com/mattjoyce/runway/internal/pipeline"
	"github.com/mattjoyce/runway/internal/protocol"
	"github.com/mattjoyce/runway/internal/queue"
	"github.com/mattjoyce/runway/internal/template"
	"github.com/mattjoyce/runway/internal/workspace"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

func testRequest(id string) *protocol.JobRequest {
	return &protocol.JobRequest{
		RunID:                  "run-1",
		JobID:                  id,
		JobName:                "build",
		Labels:                 []string{"ubuntu-latest"},
		TimeoutInMinutes:       1,
		CancelTimeoutInMinutes: 1,
	}
}

func TestDispatcher_ProcessNext(t *testing.T) {
	ctx := context.Background()
	labels := []string{"ubuntu-latest", "gpu"}

	t.Run("empty queue", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		src := mocks.NewMockSource(ctrl)
		d := New(src, mocks.NewMockCompleter(ctrl), mocks.NewMockWorker(ctrl), Config{Labels: labels})

		src.EXPECT().Acquire(ctx, labels).Return(nil, nil)

		ok, err := d.ProcessNext(ctx)
		if err != nil || ok {
			t.Fatalf("ProcessNext() = %v, %v; want false, nil", ok, err)
		}
	})

	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		src := mocks.NewMockSource(ctrl)
		comp := mocks.NewMockCompleter(ctrl)
		worker := mocks.NewMockWorker(ctrl)
		d := New(src, comp, worker, Config{Labels: labels})

		req := testRequest("job-1")
		gomock.InOrder(
			src.EXPECT().Acquire(ctx, labels).Return(req, nil),
			worker.EXPECT().Run(ctx, req).Return(protocol.Completion{Result: "succeeded", Outputs: map[string]string{"v": "1"}}, nil),
			comp.EXPECT().Complete(gomock.Any(), protocol.Completion{
				JobID:   "job-1",
				Result:  protocol.ResultSucceeded,
				Outputs: map[string]string{"v": "1"},
			}).Return(nil),
		)

		ok, err := d.ProcessNext(ctx)
		if err != nil || !ok {
			t.Fatalf("ProcessNext() = %v, %v; want true, nil", ok, err)
		}
	})

	t.Run("worker error completes as failed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		src := mocks.NewMockSource(ctrl)
		comp := mocks.NewMockCompleter(ctrl)
		worker := mocks.NewMockWorker(ctrl)
		d := New(src, comp, worker, Config{Labels: labels})

		req := testRequest("job-2")
		src.EXPECT().Acquire(ctx, labels).Return(req, nil)
		worker.EXPECT().Run(ctx, req).Return(protocol.Completion{}, errors.New("boom"))
		comp.EXPECT().Complete(gomock.Any(), protocol.Completion{JobID: "job-2", Result: protocol.ResultFailed}).Return(nil)

		if _, err := d.ProcessNext(ctx); err != nil {
			t.Fatalf("ProcessNext() error = %v", err)
		}
	})

	t.Run("invalid result completes as failed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		src := mocks.NewMockSource(ctrl)
		comp := mocks.NewMockCompleter(ctrl)
		worker := mocks.NewMockWorker(ctrl)
		d := New(src, comp, worker, Config{Labels: labels})

		req := testRequest("job-3")
		src.EXPECT().Acquire(ctx, labels).Return(req, nil)
		worker.EXPECT().Run(ctx, req).Return(protocol.Completion{Result: "great"}, nil)
		comp.EXPECT().Complete(gomock.Any(), protocol.Completion{JobID: "job-3", Result: protocol.ResultFailed}).Return(nil)

		if _, err := d.ProcessNext(ctx); err != nil {
			t.Fatalf("ProcessNext() error = %v", err)
		}
	})

	t.Run("acquire and complete errors surface", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		src := mocks.NewMockSource(ctrl)
		comp := mocks.NewMockCompleter(ctrl)
		worker := mocks.NewMockWorker(ctrl)
		d := New(src, comp, worker, Config{Labels: labels})

		src.EXPECT().Acquire(ctx, labels).Return(nil, errors.New("db down"))
		if _, err := d.ProcessNext(ctx); err == nil {
			t.Fatalf("ProcessNext() should fail when acquire fails")
		}

		req := testRequest("job-4")
		src.EXPECT().Acquire(ctx, labels).Return(req, nil)
		worker.EXPECT().Run(ctx, req).Return(protocol.Completion{Result: protocol.ResultSucceeded}, nil)
		comp.EXPECT().Complete(gomock.Any(), gomock.Any()).Return(orchestrator.ErrSessionClosed)
		_, err := d.ProcessNext(ctx)
		if !errors.Is(err, orchestrator.ErrSessionClosed) {
			t.Fatalf("ProcessNext() error = %v, want ErrSessionClosed", err)
		}
	})
}

func TestDispatcher_Drain(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	src := mocks.NewMockSource(ctrl)
	comp := mocks.NewMockCompleter(ctrl)
	d := New(src, comp, &LocalWorker{}, Config{})

	gomock.InOrder(
		src.EXPECT().Acquire(ctx, gomock.Any()).Return(testRequest("a"), nil),
		src.EXPECT().Acquire(ctx, gomock.Any()).Return(testRequest("b"), nil),
		src.EXPECT().Acquire(ctx, gomock.Any()).Return(nil, nil),
	)
	comp.EXPECT().Complete(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	if err := d.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
}

func TestLocalWorker(t *testing.T) {
	w := &LocalWorker{
		Default: protocol.ResultSucceeded,
		Results: map[string]protocol.TaskResult{"Deploy": protocol.ResultFailed},
		Outputs: map[string]map[string]string{"build": {"artifact": "app.tgz"}},
	}

	build := testRequest("a")
	c, err := w.Run(context.Background(), build)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if c.Result != protocol.ResultSucceeded || c.Outputs["artifact"] != "app.tgz" || c.JobID != "a" {
		t.Fatalf("Run(build) = %+v", c)
	}

	deploy := testRequest("b")
	deploy.JobName = "deploy"
	c, _ = w.Run(context.Background(), deploy)
	if c.Result != protocol.ResultFailed {
		t.Fatalf("Run(deploy).Result = %q, want Failed", c.Result)
	}
	if len(w.Requests()) != 2 {
		t.Fatalf("Requests() = %d, want 2", len(w.Requests()))
	}
}

func writeExecutor(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "executor.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write executor: %v", err)
	}
	return path
}

func TestExecWorker_Success(t *testing.T) {
	entry := writeExecutor(t, `#!/bin/sh
cat > "$RUNWAY_WORKSPACE/request.json"
echo "building $RUNWAY_JOB_NAME"
echo '{"result":"succeeded","outputs":{"job":"'"$RUNWAY_JOB_NAME"'"}}'
`)
	mgr, err := workspace.NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	w := &ExecWorker{Entrypoint: entry, Workspaces: mgr}

	req := testRequest("job-1")
	c, err := w.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if c.JobID != "job-1" || c.Result != "succeeded" || c.Outputs["job"] != "build" {
		t.Fatalf("Run() = %+v", c)
	}

	ws, err := mgr.Open(context.Background(), "run-1", "build")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	f, err := os.Open(filepath.Join(ws.Dir, "request.json"))
	if err != nil {
		t.Fatalf("executor did not receive the request: %v", err)
	}
	defer f.Close()
	got, err := protocol.DecodeRequest(f)
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if got.JobID != "job-1" {
		t.Fatalf("request job_id = %q", got.JobID)
	}
}

func TestExecWorker_CleanWorkspace(t *testing.T) {
	entry := writeExecutor(t, `#!/bin/sh
cat > /dev/null
if [ -e "$RUNWAY_WORKSPACE/stale" ]; then
  echo '{"result":"failed"}'
else
  echo '{"result":"succeeded"}'
fi
`)
	mgr, err := workspace.NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}
	ws, err := mgr.Prepare(context.Background(), "run-1", "build", false)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Dir, "stale"), []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to seed workspace: %v", err)
	}
	w := &ExecWorker{Entrypoint: entry, Workspaces: mgr}

	req := testRequest("job-1")
	c, err := w.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if c.Result != "failed" {
		t.Fatalf("Result = %q, want failed while the stale file is kept", c.Result)
	}

	req = testRequest("job-2")
	req.Workspace.Clean = true
	c, err = w.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if c.Result != "succeeded" {
		t.Fatalf("Result = %q, want succeeded after a clean workspace", c.Result)
	}
}

func TestExecWorker_NonZeroExitUsesCompletion(t *testing.T) {
	entry := writeExecutor(t, `#!/bin/sh
cat > /dev/null
echo '{"result":"failed"}'
exit 3
`)
	c, err := (&ExecWorker{Entrypoint: entry}).Run(context.Background(), testRequest("job-1"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if c.Result != "failed" {
		t.Fatalf("Result = %q, want failed", c.Result)
	}
}

func TestExecWorker_NoCompletion(t *testing.T) {
	entry := writeExecutor(t, `#!/bin/sh
cat > /dev/null
echo "nothing useful"
`)
	if _, err := (&ExecWorker{Entrypoint: entry}).Run(context.Background(), testRequest("job-1")); err == nil {
		t.Fatalf("Run() should fail without a completion line")
	}
}

func TestExecWorker_Timeout(t *testing.T) {
	entry := writeExecutor(t, `#!/bin/sh
cat > /dev/null
exec sleep 10
`)
	w := &ExecWorker{Entrypoint: entry, Timeout: 100 * time.Millisecond, GracePeriod: 100 * time.Millisecond}

	start := time.Now()
	c, err := w.Run(context.Background(), testRequest("job-1"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if c.Result != protocol.ResultCanceled {
		t.Fatalf("Result = %q, want Canceled", c.Result)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}
}

func TestExecWorker_MissingEntrypoint(t *testing.T) {
	w := &ExecWorker{Entrypoint: filepath.Join(t.TempDir(), "missing")}
	if _, err := w.Run(context.Background(), testRequest("job-1")); err == nil {
		t.Fatalf("Run() should fail for a missing executor")
	}
}

func TestDispatcher_RunsWorkflowEndToEnd(t *testing.T) {
	tctx := template.NewContext(template.Limits{}, nil)
	p, err := pipeline.Load(tctx, "ci.yml", []byte(`
on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps: [{run: make}]
  deploy:
    needs: build
    if: eq(needs.build.outputs.artifact, 'app.tgz')
    runs-on: ubuntu-latest
    steps: [{run: make deploy}]
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(p.Errors) > 0 {
		t.Fatalf("Load() errors = %v", p.Errors)
	}

	q := queue.NewMemory()
	engine := orchestrator.NewEngine(orchestrator.Config{}, q)
	worker := &LocalWorker{Outputs: map[string]map[string]string{"build": {"artifact": "app.tgz"}}}
	d := New(q, engine, worker, Config{Labels: []string{"ubuntu-latest"}, PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)

	s, err := engine.Start(ctx, p, orchestrator.Options{Event: "push", Ref: "refs/heads/main"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not finish")
	}
	if s.Result() != orchestrator.RunSuccess {
		t.Fatalf("Result() = %q, want success", s.Result())
	}
	if n := len(worker.Requests()); n != 2 {
		t.Fatalf("worker ran %d requests, want 2", n)
	}
}
