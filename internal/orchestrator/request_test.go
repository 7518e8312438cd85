package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/runway/internal/protocol"
)

const requestWorkflow = `
name: CI
on: push
env:
  GLOBAL: "1"
jobs:
  build:
    name: Build ${{ github.ref }}
    runs-on: [ubuntu-latest, gpu]
    timeout-minutes: ${{ 15 }}
    env:
      LOCAL: "2"
    workspace:
      clean: true
    steps:
      - uses: actions/checkout@v1
      - run: make
      - run: make test
`

func TestRequestContents(t *testing.T) {
	h := newHarness(t, Config{
		ServerURL:   "https://github.example.com",
		APIURL:      "https://api.github.example.com",
		GitHubToken: "tok",
		Secrets:     map[string]string{"DEPLOY_KEY": "k3y", "DUP": "tok", "EMPTY": " "},
		Environment: "staging",
	})
	s := h.start(requestWorkflow)
	req := h.acquire("ubuntu-latest", "gpu")

	assert.Equal(t, s.ID(), req.RunID)
	assert.Equal(t, "build", req.JobName)
	assert.Equal(t, "Build refs/heads/main", req.JobDisplayName)
	assert.Equal(t, "Hosted Ubuntu 1604", req.Pool)
	assert.Equal(t, []string{"ubuntu-latest", "gpu"}, req.Labels)
	assert.Equal(t, 15, req.TimeoutInMinutes)
	assert.Equal(t, 5, req.CancelTimeoutInMinutes)
	assert.Equal(t, "staging", req.EnvironmentRef)
	assert.Equal(t, "CI", req.Plan.OwnerName)
	assert.Equal(t, "octo/app", req.Plan.Repository)
	assert.Equal(t, []string{"ci.yml"}, req.FileTable)
	assert.True(t, req.Workspace.Clean)

	assert.Equal(t, []any{
		map[string]any{"GLOBAL": "1"},
		map[string]any{"LOCAL": "2"},
	}, req.Environment)

	assert.Equal(t, protocol.Variable{Value: "tok", IsSecret: true}, req.Variables[VariableSystemGitHubToken])
	assert.Equal(t, protocol.Variable{Value: "tok", IsSecret: true}, req.Variables[VariableGitHubToken])
	assert.Equal(t, protocol.Variable{Value: "true"}, req.Variables[VariableNewActionMetadata])
	assert.Equal(t, protocol.Variable{Value: "k3y", IsSecret: true}, req.Variables["DEPLOY_KEY"])
	assert.Equal(t, []protocol.MaskHint{
		{Type: "regex", Value: "k3y"},
		{Type: "regex", Value: "tok"},
	}, req.MaskHints)

	require.Len(t, req.Resources.Endpoints, 1)
	ep := req.Resources.Endpoints[0]
	assert.Equal(t, SystemConnectionEndpoint, ep.Name)
	assert.Equal(t, "https://api.github.example.com", ep.URL)
	assert.Equal(t, "tok", ep.Authorization["AccessToken"])

	require.Len(t, req.Steps, 4)
	ids := map[string]struct{}{}
	for _, st := range req.Steps {
		assert.NotEmpty(t, st.ID)
		ids[st.ID] = struct{}{}
	}
	assert.Len(t, ids, 4, "step ids must be distinct")
	assert.Equal(t, "plugin", req.Steps[0].Reference.Kind, "implicit checkout comes first")
	assert.Equal(t, "repository", req.Steps[1].Reference.Kind)
	assert.Equal(t, "actions/checkout", req.Steps[1].Reference.Name)
	assert.Equal(t, "script", req.Steps[2].Reference.Kind)

	gh := lookup(t, req.ContextData, "github").(map[string]any)
	assert.Equal(t, "https://github.example.com", gh["server_url"])
	assert.Equal(t, "octo", gh["repository_owner"])
	assert.Equal(t, "push", gh["event_name"])
	assert.Equal(t, "CI", gh["workflow"])
	assert.Equal(t, "octocat", gh["actor"])
	assert.Equal(t, "0", gh["run_id"])
	assert.Equal(t, "0", gh["run_number"])

	h.complete(req, protocol.ResultSucceeded, nil)
	wait(t, s)
}

func TestRunCountersAdvance(t *testing.T) {
	h := newHarness(t, Config{})
	doc := `
on: push
jobs:
  a:
    runs-on: ubuntu-latest
    steps: [{run: make}]
`
	for i, want := range []string{"0", "1", "2"} {
		s := h.start(doc)
		req := h.acquire("ubuntu-latest")
		assert.Equal(t, want, lookup(t, req.ContextData, "github", "run_id"), "run %d", i)
		assert.Equal(t, want, lookup(t, req.ContextData, "github", "run_number"), "run %d", i)
		assert.Equal(t, int64(i), s.RunNumber())
		assert.False(t, req.Workspace.Clean)
		h.complete(req, protocol.ResultSucceeded, nil)
		wait(t, s)
	}
}

func TestVariablesWithoutToken(t *testing.T) {
	s := &Session{engine: NewEngine(Config{}, nil)}
	vars, hints := s.variables()
	assert.Len(t, vars, 3)
	assert.Empty(t, hints)
	assert.Nil(t, s.resources().Endpoints[0].Authorization)
}
