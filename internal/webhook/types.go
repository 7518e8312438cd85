package webhook

import (
	"context"

	"github.com/mattjoyce/runway/internal/orchestrator"
)

// Starter starts a workflow file. *orchestrator.Engine implements it.
type Starter interface {
	StartFile(ctx context.Context, path string, o orchestrator.Options) (*orchestrator.Session, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	Path   string
	Secret string

	// SignatureHeader carries the HMAC, e.g. X-Hub-Signature-256.
	SignatureHeader string
	// EventHeader names the event, e.g. X-GitHub-Event.
	EventHeader string

	MaxBodySize int64
	Workflows   []string
}

// TriggerResponse is the JSON response for an accepted delivery.
type TriggerResponse struct {
	Event   string      `json:"event"`
	Runs    []RunRef    `json:"runs"`
	Skipped []string    `json:"skipped,omitempty"`
	Errors  []RunFailed `json:"errors,omitempty"`
}

// RunRef identifies a started run.
type RunRef struct {
	Workflow  string `json:"workflow"`
	RunID     string `json:"run_id"`
	RunNumber int64  `json:"run_number"`
}

// RunFailed reports a workflow that could not be started.
type RunFailed struct {
	Workflow string `json:"workflow"`
	Error    string `json:"error"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultSignatureHeader = "X-Hub-Signature-256"
	DefaultEventHeader     = "X-GitHub-Event"
)
