package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/runway/internal/auth"
	"github.com/mattjoyce/runway/internal/events"
	"github.com/mattjoyce/runway/internal/metrics"
	"github.com/mattjoyce/runway/internal/orchestrator"
	"github.com/mattjoyce/runway/internal/protocol"
	"github.com/mattjoyce/runway/internal/queue"
	"github.com/mattjoyce/runway/internal/state"
	"github.com/mattjoyce/runway/internal/storage"
)

const twoJobs = `
on: push
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: make
  deploy:
    needs: build
    runs-on: ubuntu-latest
    steps:
      - run: make deploy
`

type testAPI struct {
	t       *testing.T
	handler http.Handler
	engine  *orchestrator.Engine
	queue   *queue.MemoryQueue
	hub     *events.Hub
	store   *state.Store
	token   string
}

type fixtureOpt func(*Config, *[]orchestrator.Option, *[]Option, *testAPI)

func withStore() fixtureOpt {
	return func(_ *Config, eo *[]orchestrator.Option, so *[]Option, a *testAPI) {
		db, err := storage.OpenSQLite(context.Background(), filepath.Join(a.t.TempDir(), "state.db"))
		require.NoError(a.t, err)
		a.t.Cleanup(func() { _ = db.Close() })
		a.store = state.NewStore(db)
		*eo = append(*eo, orchestrator.WithRunRecorder(a.store), orchestrator.WithCounters(a.store))
		*so = append(*so, WithRunStore(a.store))
	}
}

func withAuth(apiKey string, tokens ...auth.TokenConfig) fixtureOpt {
	return func(c *Config, _ *[]orchestrator.Option, _ *[]Option, a *testAPI) {
		c.APIKey = apiKey
		c.Tokens = tokens
		a.token = apiKey
	}
}

func withWorkflowRoot(dir string) fixtureOpt {
	return func(c *Config, _ *[]orchestrator.Option, _ *[]Option, _ *testAPI) {
		c.WorkflowRoot = dir
	}
}

func newTestAPI(t *testing.T, opts ...fixtureOpt) *testAPI {
	t.Helper()
	a := &testAPI{t: t, queue: queue.NewMemory(), hub: events.NewHub(100)}
	cfg := Config{Listen: "127.0.0.1:0"}
	engineOpts := []orchestrator.Option{orchestrator.WithEvents(a.hub)}
	serverOpts := []Option{WithEvents(a.hub), WithMetrics(metrics.New(a.queue.Depth).Handler())}
	for _, opt := range opts {
		opt(&cfg, &engineOpts, &serverOpts, a)
	}
	a.engine = orchestrator.NewEngine(orchestrator.Config{}, a.queue, engineOpts...)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	a.handler = New(cfg, a.engine, a.queue, logger, serverOpts...).Handler()
	return a
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	return a.doAs(a.token, method, path, body)
}

func (a *testAPI) doAs(token, method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) startInline(doc string) RunResponse {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/runs", StartRunRequest{Content: doc, FileName: "ci.yml", Repository: "octo/app"})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	var run RunResponse
	require.NoError(a.t, json.NewDecoder(rec.Body).Decode(&run))
	return run
}

// acquire polls POST /jobs/acquire until a request shows up.
func (a *testAPI) acquire(labels ...string) *protocol.JobRequest {
	a.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec := a.do(http.MethodPost, "/jobs/acquire", AcquireRequest{Labels: labels})
		switch rec.Code {
		case http.StatusOK:
			var req protocol.JobRequest
			require.NoError(a.t, json.NewDecoder(rec.Body).Decode(&req))
			return &req
		case http.StatusNoContent:
			time.Sleep(5 * time.Millisecond)
		default:
			a.t.Fatalf("acquire: %d %s", rec.Code, rec.Body.String())
		}
	}
	a.t.Fatalf("no job for labels %v", labels)
	return nil
}

func (a *testAPI) complete(jobID, result string) *httptest.ResponseRecorder {
	a.t.Helper()
	return a.do(http.MethodPost, "/jobs/complete", map[string]any{"job_id": jobID, "result": result})
}

func (a *testAPI) waitRun(id string) *orchestrator.Session {
	a.t.Helper()
	sess, ok := a.engine.Session(id)
	require.True(a.t, ok)
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		a.t.Fatalf("run %s did not finish", id)
	}
	return sess
}

func TestHealthz(t *testing.T) {
	a := newTestAPI(t, withAuth("admin"))
	rec := a.doAs("", http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.QueueDepth)
	assert.Equal(t, 0, resp.ActiveRuns)
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	run := a.startInline(twoJobs)
	assert.Equal(t, state.RunRunning, run.Status)
	assert.Equal(t, "ci.yml", run.Workflow)
	require.Len(t, run.Jobs, 2)

	build := a.acquire("ubuntu-latest", "self-hosted")
	assert.Equal(t, "build", build.JobName)
	assert.Equal(t, run.ID, build.RunID)

	rec := a.complete(build.JobID, "succeeded")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ack CompleteResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ack))
	assert.Equal(t, "Succeeded", ack.Result)

	// A second completion for the same job is no longer acquired.
	assert.Equal(t, http.StatusNotFound, a.complete(build.JobID, "Succeeded").Code)

	deploy := a.acquire("ubuntu-latest")
	assert.Equal(t, "deploy", deploy.JobName)
	require.Equal(t, http.StatusOK, a.complete(deploy.JobID, "Failed").Code)

	a.waitRun(run.ID)
	rec = a.do(http.MethodGet, "/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got RunResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, state.RunCompleted, got.Status)
	assert.Equal(t, orchestrator.RunFailure, got.Result)
	require.Len(t, got.Jobs, 2)
	assert.Equal(t, protocol.ResultSucceeded, got.Jobs[0].Result)
	assert.Equal(t, protocol.ResultFailed, got.Jobs[1].Result)

	rec = a.do(http.MethodGet, "/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list RunListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Runs, 1)
	assert.Empty(t, list.Runs[0].Jobs)
}

func TestRunsFromStore(t *testing.T) {
	a := newTestAPI(t, withStore())
	first := a.startInline(twoJobs)
	second := a.startInline(twoJobs)
	assert.Equal(t, int64(0), first.RunNumber)
	assert.Equal(t, int64(1), second.RunNumber)

	a.do(http.MethodPost, "/runs/"+first.ID+"/cancel", nil)
	a.waitRun(first.ID)

	require.Eventually(t, func() bool {
		r, err := a.store.GetRun(context.Background(), first.ID)
		return err == nil && r.Status == state.RunCompleted
	}, 2*time.Second, 10*time.Millisecond)

	rec := a.do(http.MethodGet, "/runs/"+first.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got RunResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, orchestrator.RunCancelled, got.Result)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Len(t, got.Jobs, 2)

	require.Eventually(t, func() bool {
		rec := a.do(http.MethodGet, "/runs?limit=10", nil)
		var list RunListResponse
		_ = json.NewDecoder(rec.Body).Decode(&list)
		return len(list.Runs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	rec = a.do(http.MethodGet, "/runs?limit=1", nil)
	var list RunListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Runs, 1)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/runs?limit=0", nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/runs/nope", nil).Code)
}

func TestStartRunFromWorkflowRoot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "workflows"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workflows", "ci.yml"), []byte(twoJobs), 0o644))
	a := newTestAPI(t, withWorkflowRoot(dir))

	rec := a.do(http.MethodPost, "/runs", StartRunRequest{Workflow: "workflows/ci.yml"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var run RunResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&run))
	assert.Equal(t, "workflows/ci.yml", run.Workflow)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"escapes root", StartRunRequest{Workflow: "../ci.yml"}, http.StatusBadRequest},
		{"absolute", StartRunRequest{Workflow: "/etc/passwd"}, http.StatusBadRequest},
		{"missing file", StartRunRequest{Workflow: "workflows/none.yml"}, http.StatusNotFound},
		{"neither", StartRunRequest{}, http.StatusBadRequest},
		{"both", StartRunRequest{Workflow: "workflows/ci.yml", Content: twoJobs}, http.StatusBadRequest},
		{"not json", "{", http.StatusBadRequest},
		{"not triggered", StartRunRequest{Content: twoJobs, Event: "pull_request"}, http.StatusConflict},
		{"invalid workflow", StartRunRequest{Content: "jobs:\n  a:\n    needs: b\n    runs-on: x\n    steps: [{run: x}]\n"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(http.MethodPost, "/runs", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCancelRun(t *testing.T) {
	a := newTestAPI(t)
	run := a.startInline(twoJobs)
	a.acquire("ubuntu-latest")

	rec := a.do(http.MethodPost, "/runs/"+run.ID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	sess := a.waitRun(run.ID)
	assert.Equal(t, orchestrator.RunCancelled, sess.Result())

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/runs/nope/cancel", nil).Code)
}

func TestAcquireAndCompleteValidation(t *testing.T) {
	a := newTestAPI(t)

	assert.Equal(t, http.StatusNoContent, a.do(http.MethodPost, "/jobs/acquire", AcquireRequest{Labels: []string{"ubuntu-latest"}}).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/jobs/acquire", AcquireRequest{Labels: []string{" "}}).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/jobs/acquire", "nope").Code)

	assert.Equal(t, http.StatusBadRequest, a.complete("", "Succeeded").Code)
	assert.Equal(t, http.StatusBadRequest, a.complete("j", "Great").Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/jobs/complete", `{"job_id":"j","result":"Failed","extra":1}`).Code)
	assert.Equal(t, http.StatusNotFound, a.complete("never-queued", "Succeeded").Code)
}

func TestAuthScopes(t *testing.T) {
	a := newTestAPI(t, withAuth("admin",
		auth.TokenConfig{Token: "viewer", Scopes: []string{auth.ScopeRunsRead}},
		auth.TokenConfig{Token: "worker", Scopes: []string{auth.ScopeJobsWrite}},
	))

	tests := []struct {
		name   string
		token  string
		method string
		path   string
		body   any
		want   int
	}{
		{"no token", "", http.MethodGet, "/runs", nil, http.StatusUnauthorized},
		{"bad token", "guess", http.MethodGet, "/runs", nil, http.StatusUnauthorized},
		{"viewer lists runs", "viewer", http.MethodGet, "/runs", nil, http.StatusOK},
		{"viewer cannot start", "viewer", http.MethodPost, "/runs", StartRunRequest{Content: twoJobs}, http.StatusForbidden},
		{"viewer cannot acquire", "viewer", http.MethodPost, "/jobs/acquire", AcquireRequest{Labels: []string{"x"}}, http.StatusForbidden},
		{"viewer cannot stream", "viewer", http.MethodGet, "/events", nil, http.StatusForbidden},
		{"worker acquires", "worker", http.MethodPost, "/jobs/acquire", AcquireRequest{Labels: []string{"x"}}, http.StatusNoContent},
		{"worker cannot read runs", "worker", http.MethodGet, "/runs", nil, http.StatusForbidden},
		{"admin starts", "admin", http.MethodPost, "/runs", StartRunRequest{Content: twoJobs}, http.StatusCreated},
		{"metrics are open", "", http.MethodGet, "/metrics", nil, http.StatusOK},
		{"openapi is open", "", http.MethodGet, "/openapi.json", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.doAs(tt.token, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "runway_runs_started_total")
}

// readSSE parses the frames written to a recorder.
func readSSE(t *testing.T, body string) []events.Event {
	t.Helper()
	var out []events.Event
	var cur events.Event
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "id: ")), &cur.ID))
		case strings.HasPrefix(line, "event: "):
			cur.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = json.RawMessage(strings.TrimPrefix(line, "data: "))
		case line == "" && cur.ID != 0:
			out = append(out, cur)
			cur = events.Event{}
		}
	}
	return out
}

func TestEventsReplayAndFilter(t *testing.T) {
	a := newTestAPI(t)
	a.hub.Publish(events.RunStarted, events.RunData{RunID: "r1"})
	a.hub.Publish(events.JobQueued, events.JobData{RunID: "r1", Job: "build"})
	a.hub.Publish(events.RunStarted, events.RunData{RunID: "r2"})
	a.hub.Publish(events.RunCompleted, events.RunData{RunID: "r1", Result: "success"})

	stream := func(path, lastID string) []events.Event {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
		if lastID != "" {
			req.Header.Set("Last-Event-ID", lastID)
		}
		rec := httptest.NewRecorder()
		a.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		return readSSE(t, rec.Body.String())
	}

	all := stream("/events", "")
	require.Len(t, all, 4)
	assert.Equal(t, events.RunStarted, all[0].Type)

	byRun := stream("/events?run=r1", "")
	require.Len(t, byRun, 3)
	for _, ev := range byRun {
		assert.Contains(t, string(ev.Data), `"run_id":"r1"`)
	}

	byType := stream("/events?type=run.started,run.completed", "")
	require.Len(t, byType, 3)

	resumed := stream("/events", "2")
	require.Len(t, resumed, 2)
	assert.Equal(t, int64(3), resumed[0].ID)
}

func TestOpenAPIDocument(t *testing.T) {
	doc := buildOpenAPIDoc()
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	for _, p := range []string{"/healthz", "/runs", "/runs/{runID}", "/runs/{runID}/cancel", "/jobs/acquire", "/jobs/complete", "/events"} {
		assert.Contains(t, paths, p)
	}
	runs := paths["/runs"].(map[string]any)
	assert.Contains(t, runs, "get")
	assert.Contains(t, runs, "post")
	assert.Equal(t, "postRunsRunIDCancel", paths["/runs/{runID}/cancel"].(map[string]any)["post"].(map[string]any)["operationId"])
}
