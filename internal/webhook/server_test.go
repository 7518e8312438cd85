package webhook

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/runway/internal/config"
	"github.com/mattjoyce/runway/internal/orchestrator"
	"github.com/mattjoyce/runway/internal/queue"
)

const secret = "test-secret"

const pushWorkflow = `
on:
  push:
    branches: [main]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - run: make
`

const prWorkflow = `
on: pull_request
jobs:
  lint:
    runs-on: ubuntu-latest
    steps:
      - run: make lint
`

type fixture struct {
	server *Server
	engine *orchestrator.Engine
	queue  *queue.MemoryQueue
	dir    string
}

func newFixture(t *testing.T, workflows ...string) *fixture {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, len(workflows))
	for i, doc := range workflows {
		p := filepath.Join(dir, "wf"+string(rune('a'+i))+".yml")
		require.NoError(t, os.WriteFile(p, []byte(doc), 0o644))
		paths = append(paths, p)
	}
	q := queue.NewMemory()
	engine := orchestrator.NewEngine(orchestrator.Config{}, q)
	cfg := Config{
		Listen: "127.0.0.1:0",
		Endpoints: []EndpointConfig{{
			Path:      "/github",
			Secret:    secret,
			Workflows: paths,
		}},
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return &fixture{server: New(cfg, engine, logger), engine: engine, queue: q, dir: dir}
}

func (f *fixture) deliver(t *testing.T, event string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/github", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	if event != "" {
		req.Header.Set("X-GitHub-Event", event)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) TriggerResponse {
	t.Helper()
	var resp TriggerResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestPushStartsMatchingWorkflows(t *testing.T) {
	f := newFixture(t, pushWorkflow, prWorkflow)
	body := []byte(`{
		"ref": "refs/heads/main",
		"after": "abc123",
		"repository": {"full_name": "octo/app", "owner": {"login": "octo"}},
		"sender": {"login": "octocat"}
	}`)

	rec := f.deliver(t, "push", body, Sign(body, secret))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	assert.Equal(t, "push", resp.Event)
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, filepath.Join(f.dir, "wfa.yml"), resp.Runs[0].Workflow)
	assert.Equal(t, []string{filepath.Join(f.dir, "wfb.yml")}, resp.Skipped)
	assert.Empty(t, resp.Errors)

	sess, ok := f.engine.Session(resp.Runs[0].RunID)
	require.True(t, ok)
	jobs := sess.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "build", jobs[0].Name)
}

func TestPullRequestOptions(t *testing.T) {
	body := []byte(`{
		"number": 7,
		"pull_request": {"head": {"ref": "feature", "sha": "def456"}, "base": {"ref": "main"}},
		"repository": {"full_name": "octo/app"},
		"sender": {"login": "hubot"}
	}`)
	o, err := toOptions("pull_request", body)
	require.NoError(t, err)
	assert.Equal(t, "refs/pull/7/merge", o.Ref)
	assert.Equal(t, "feature", o.HeadRef)
	assert.Equal(t, "main", o.BaseRef)
	assert.Equal(t, "def456", o.Sha)
	assert.Equal(t, "octo", o.RepositoryOwner)
	assert.Equal(t, "hubot", o.Actor)
	assert.Equal(t, float64(7), o.Payload["number"])

	o, err = toOptions("create", []byte(`{"ref": "v1.0", "ref_type": "tag"}`))
	require.NoError(t, err)
	assert.Equal(t, "refs/tags/v1.0", o.Ref)

	o, err = toOptions("push", []byte(`{"ref": "refs/heads/x", "head_commit": {"id": "fff"}}`))
	require.NoError(t, err)
	assert.Equal(t, "fff", o.Sha)

	_, err = toOptions("push", []byte(`[1,2]`))
	assert.Error(t, err)
	_, err = toOptions("push", []byte(`null`))
	assert.Error(t, err)
}

func TestNothingTriggeredIsOK(t *testing.T) {
	f := newFixture(t, pushWorkflow)
	body := []byte(`{"ref": "refs/heads/dev"}`)
	rec := f.deliver(t, "push", body, Sign(body, secret))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Empty(t, resp.Runs)
	assert.Len(t, resp.Skipped, 1)
	assert.Empty(t, f.engine.Sessions())
}

func TestBrokenWorkflowReported(t *testing.T) {
	f := newFixture(t, "jobs: [")
	body := []byte(`{"ref": "refs/heads/main"}`)
	rec := f.deliver(t, "push", body, Sign(body, secret))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode(t, rec)
	require.Len(t, resp.Errors, 1)
	assert.NotEmpty(t, resp.Errors[0].Error)
}

func TestPing(t *testing.T) {
	f := newFixture(t, pushWorkflow)
	body := []byte(`{"zen": "Keep it logically awesome."}`)
	rec := f.deliver(t, "ping", body, Sign(body, secret))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.engine.Sessions())
}

func TestRejectedDeliveries(t *testing.T) {
	f := newFixture(t, pushWorkflow)
	body := []byte(`{"ref": "refs/heads/main"}`)

	tests := []struct {
		name      string
		event     string
		body      []byte
		signature string
		want      int
	}{
		{"missing signature", "push", body, "", http.StatusForbidden},
		{"bad signature", "push", body, Sign(body, "wrong"), http.StatusForbidden},
		{"missing event", "", body, Sign(body, secret), http.StatusBadRequest},
		{"invalid json", "push", []byte("{"), Sign([]byte("{"), secret), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.deliver(t, tt.event, tt.body, tt.signature)
			assert.Equal(t, tt.want, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
	assert.Empty(t, f.engine.Sessions())
}

func TestBodyTooLarge(t *testing.T) {
	f := newFixture(t, pushWorkflow)
	f.server.endpoints["/github"].MaxBodySize = 16
	body := bytes.Repeat([]byte("a"), 17)
	rec := f.deliver(t, "push", body, Sign(body, secret))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUnknownPath(t *testing.T) {
	f := newFixture(t, pushWorkflow)
	req := httptest.NewRequest(http.MethodPost, "/gitlab", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(Config{Endpoints: []EndpointConfig{{Path: "/hook", Secret: "s"}}}, nil, slog.Default())
	ep := s.endpoints["/hook"]
	assert.Equal(t, int64(DefaultMaxBodySize), ep.MaxBodySize)
	assert.Equal(t, DefaultSignatureHeader, ep.SignatureHeader)
	assert.Equal(t, DefaultEventHeader, ep.EventHeader)
}

func TestFromGlobalConfig(t *testing.T) {
	cfg, err := FromGlobalConfig(&config.WebhooksConfig{
		Listen: "127.0.0.1:8091",
		Endpoints: []config.WebhookEndpoint{{
			Path:        "/github",
			Secret:      "s",
			MaxBodySize: "2MB",
			Workflows:   []string{"ci.yml"},
		}},
	})
	require.NoError(t, err)
	require.Len(t, cfg.Endpoints, 1)
	ep := cfg.Endpoints[0]
	assert.Equal(t, int64(2<<20), ep.MaxBodySize)
	assert.Equal(t, DefaultSignatureHeader, ep.SignatureHeader)
	assert.Equal(t, []string{"ci.yml"}, ep.Workflows)

	_, err = FromGlobalConfig(nil)
	assert.Error(t, err)

	_, err = FromGlobalConfig(&config.WebhooksConfig{Endpoints: []config.WebhookEndpoint{
		{Path: "/a", Secret: "s", Workflows: []string{"x"}},
		{Path: "/a", Secret: "s", Workflows: []string{"y"}},
	}})
	assert.ErrorContains(t, err, "configured twice")

	_, err = FromGlobalConfig(&config.WebhooksConfig{Endpoints: []config.WebhookEndpoint{
		{Path: "/a", Secret: "s", MaxBodySize: "huge", Workflows: []string{"x"}},
	}})
	assert.ErrorContains(t, err, "max_body_size")
}
