package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
state:
  path: ./test.db
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.State.Path != "./test.db" {
					t.Error("state.path not parsed")
				}
				if cfg.Service.Name != "runway" || cfg.Service.LogLevel != "info" {
					t.Errorf("service defaults not applied: %+v", cfg.Service)
				}
				if cfg.Server.APIURL != "https://api.github.com" {
					t.Errorf("server.api_url default = %q", cfg.Server.APIURL)
				}
				if cfg.Dispatch.PollInterval != time.Second {
					t.Errorf("dispatch.poll_interval default = %v", cfg.Dispatch.PollInterval)
				}
				if cfg.State.CleanupInterval != time.Hour {
					t.Errorf("state.cleanup_interval default = %v", cfg.State.CleanupInterval)
				}
			},
		},
		{
			name: "full config",
			yaml: `
service:
  name: ci
  log_level: debug
  log_format: text
  environment: staging
state:
  path: /var/lib/runway/state.db
  history_retention: 72h
api:
  enabled: true
  listen: 0.0.0.0:9000
  workflow_root: /srv/workflows
  auth:
    tokens:
      - token: worker-token
        scopes: [jobs:rw]
      - token: viewer
        scopes: [runs:ro, events:ro]
limits:
  max_errors: 5
  max_depth: 20
server:
  server_url: https://git.example.com
  api_url: https://git.example.com/api/v3
dispatch:
  enabled: true
  labels: [ubuntu-latest, self-hosted]
  poll_interval: 250ms
  executor: /usr/local/bin/runway-exec
  workspace_dir: /tmp/ws
webhooks:
  listen: 127.0.0.1:8091
  endpoints:
    - path: /github
      secret: s3cret
      signature_header: X-Hub-Signature-256
      workflows: [.github/workflows/ci.yml]
secrets:
  DEPLOY_KEY: abc
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if !cfg.API.Enabled || cfg.API.Listen != "0.0.0.0:9000" {
					t.Errorf("api = %+v", cfg.API)
				}
				if cfg.API.WorkflowRoot != "/srv/workflows" {
					t.Errorf("api.workflow_root = %q", cfg.API.WorkflowRoot)
				}
				if len(cfg.API.Auth.Tokens) != 2 || cfg.API.Auth.Tokens[1].Scopes[1] != "events:ro" {
					t.Errorf("api.auth.tokens = %+v", cfg.API.Auth.Tokens)
				}
				lim := cfg.Limits.Template()
				if lim.MaxErrors != 5 || lim.MaxDepth != 20 {
					t.Errorf("limits = %+v", lim)
				}
				if got := cfg.Dispatch.Labels; len(got) != 2 || got[1] != "self-hosted" {
					t.Errorf("dispatch.labels = %v", got)
				}
				if cfg.Dispatch.PollInterval != 250*time.Millisecond {
					t.Errorf("dispatch.poll_interval = %v", cfg.Dispatch.PollInterval)
				}
				if cfg.Webhooks == nil || cfg.Webhooks.Endpoints[0].Workflows[0] != ".github/workflows/ci.yml" {
					t.Errorf("webhooks = %+v", cfg.Webhooks)
				}
				if cfg.Secrets["DEPLOY_KEY"] != "abc" {
					t.Errorf("secrets = %v", cfg.Secrets)
				}
				if cfg.State.HistoryRetention != 72*time.Hour {
					t.Errorf("state.history_retention = %v", cfg.State.HistoryRetention)
				}
				if cfg.Service.Environment != "staging" {
					t.Errorf("service.environment = %q", cfg.Service.Environment)
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
state:
  path: ${DB_PATH}
server:
  github_token: ${GH_TOKEN}
secrets:
  NPM_TOKEN: ${NPM}
`,
			env: map[string]string{
				"DB_PATH":  "/tmp/test.db",
				"GH_TOKEN": "ghp_123",
				"NPM":      "npm_456",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.State.Path != "/tmp/test.db" {
					t.Errorf("state.path = %q", cfg.State.Path)
				}
				if cfg.Server.GitHubToken != "ghp_123" {
					t.Errorf("server.github_token = %q", cfg.Server.GitHubToken)
				}
				if cfg.Secrets["NPM_TOKEN"] != "npm_456" {
					t.Errorf("secrets.NPM_TOKEN = %q", cfg.Secrets["NPM_TOKEN"])
				}
			},
		},
		{
			name: "unset secret variable",
			yaml: `
secrets:
  TOKEN: ${RUNWAY_TEST_SURELY_UNSET}
`,
			wantErr: "${RUNWAY_TEST_SURELY_UNSET} is not set",
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "service.log_level must be one of",
		},
		{
			name:    "unknown key",
			yaml:    "plugins_dir: ./plugins\n",
			wantErr: "field plugins_dir not found",
		},
		{
			name: "unknown scope",
			yaml: `
api:
  auth:
    tokens:
      - token: t
        scopes: [plugin:rw]
`,
			wantErr: "unknown scope",
		},
		{
			name:    "bad listen address",
			yaml:    "api:\n  enabled: true\n  listen: nowhere\n",
			wantErr: "api.listen must be host:port",
		},
		{
			name:    "dispatch without labels",
			yaml:    "dispatch:\n  enabled: true\n  labels: []\n",
			wantErr: "dispatch.labels is required",
		},
		{
			name: "webhook without workflows",
			yaml: `
webhooks:
  listen: 127.0.0.1:8091
  endpoints:
    - path: /github
      secret: s
`,
			wantErr: "webhooks.endpoints[0].workflows must have at least 1 entries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() succeeded, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.checkFn(t, cfg)
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("service:\n  name: from-dir\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if cfg.Service.Name != "from-dir" {
		t.Fatalf("service.name = %q", cfg.Service.Name)
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("Load() of a directory without config.yaml should fail")
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("Load() of a missing file should fail")
	}
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if cfg.State.Path != Defaults().State.Path {
		t.Fatalf("state.path = %q", cfg.State.Path)
	}
}
