package config

import (
	"time"

	"github.com/mattjoyce/runway/internal/template"
)

// Config represents the complete runway service configuration.
type Config struct {
	Service  ServiceConfig     `yaml:"service"`
	State    StateConfig       `yaml:"state"`
	API      APIConfig         `yaml:"api"`
	Limits   LimitsConfig      `yaml:"limits"`
	Server   ServerConfig      `yaml:"server"`
	Dispatch DispatchConfig    `yaml:"dispatch"`
	Webhooks *WebhooksConfig   `yaml:"webhooks,omitempty"`
	Secrets  map[string]string `yaml:"secrets,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name" validate:"required"`
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=json text"`

	// Environment is stamped on job requests as the environment reference.
	Environment string `yaml:"environment,omitempty"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path" validate:"required"`

	// HistoryRetention bounds the completion log. Zero keeps everything.
	HistoryRetention time.Duration `yaml:"history_retention" validate:"gte=0"`
	// CleanupInterval spaces workspace and history cleanup passes.
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gte=0"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen" validate:"omitempty,hostname_port"`
	Auth    APIAuthConfig `yaml:"auth"`

	// WorkflowRoot is the directory POST /runs resolves workflow paths
	// against. Empty means the working directory.
	WorkflowRoot string `yaml:"workflow_root,omitempty"`
}

// APIAuthConfig defines API authentication settings. With no key and no
// tokens the API is open.
type APIAuthConfig struct {
	// APIKey is a single admin bearer token.
	APIKey string     `yaml:"api_key,omitempty"`
	Tokens []APIToken `yaml:"tokens,omitempty" validate:"dive"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token" validate:"required"`
	Scopes []string `yaml:"scopes" validate:"min=1,dive,scope"`
}

// LimitsConfig bounds the template reader and error collection. Zero keeps
// the built-in default.
type LimitsConfig struct {
	MaxErrors             int `yaml:"max_errors" validate:"gte=0"`
	MaxErrorMessageLength int `yaml:"max_error_message_length" validate:"gte=0"`
	MaxDepth              int `yaml:"max_depth" validate:"gte=0"`
	MaxEvents             int `yaml:"max_events" validate:"gte=0"`
	MaxBytes              int `yaml:"max_bytes" validate:"gte=0"`
}

// Template converts the limits for template.NewContext.
func (l LimitsConfig) Template() template.Limits {
	return template.Limits{
		MaxErrors:        l.MaxErrors,
		MaxMessageLength: l.MaxErrorMessageLength,
		MaxDepth:         l.MaxDepth,
		MaxEvents:        l.MaxEvents,
		MaxBytes:         l.MaxBytes,
	}
}

// ServerConfig holds the values exposed to jobs as github.server_url and
// github.api_url, plus the token sent as github_token.
type ServerConfig struct {
	ServerURL   string `yaml:"server_url" validate:"omitempty,url"`
	APIURL      string `yaml:"api_url" validate:"omitempty,url"`
	GitHubToken string `yaml:"github_token,omitempty"`
}

// DispatchConfig configures the in-process worker host. Remote workers use
// the API instead.
type DispatchConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Labels       []string      `yaml:"labels" validate:"dive,required"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gte=0"`
	// Executor is spawned once per job request. Empty completes every
	// request as succeeded without running anything.
	Executor     string        `yaml:"executor,omitempty"`
	ExecutorArgs []string      `yaml:"executor_args,omitempty"`
	WorkspaceDir string        `yaml:"workspace_dir" validate:"required_with=Executor"`
	Retention    time.Duration `yaml:"workspace_retention" validate:"gte=0"`
}

// WebhooksConfig defines webhook listener settings.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen" validate:"required,hostname_port"`
	Endpoints []WebhookEndpoint `yaml:"endpoints" validate:"min=1,dive"`
}

// WebhookEndpoint maps a signed webhook path onto workflow files.
type WebhookEndpoint struct {
	Path            string   `yaml:"path" validate:"required,startswith=/"`
	Secret          string   `yaml:"secret" validate:"required"`
	SignatureHeader string   `yaml:"signature_header"`
	EventHeader     string   `yaml:"event_header"`
	MaxBodySize     string   `yaml:"max_body_size"`
	Workflows       []string `yaml:"workflows" validate:"min=1,dive,required"`
}

// Defaults returns a Config with defaults for a local single-node setup.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "runway",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path:             "./data/runway.db",
			HistoryRetention: 30 * 24 * time.Hour,
			CleanupInterval:  time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Server: ServerConfig{
			ServerURL: "https://github.com",
			APIURL:    "https://api.github.com",
		},
		Dispatch: DispatchConfig{
			Labels:       []string{"ubuntu-latest"},
			PollInterval: time.Second,
			WorkspaceDir: "./data/workspaces",
			Retention:    7 * 24 * time.Hour,
		},
		Secrets: make(map[string]string),
	}
}
