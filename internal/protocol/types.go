// Package protocol holds the records exchanged with workers: job requests
// going out and completions coming back.
package protocol

import (
	"strings"
	"time"
)

// TaskResult is a worker's verdict on a job.
type TaskResult string

const (
	ResultSucceeded           TaskResult = "Succeeded"
	ResultSucceededWithIssues TaskResult = "SucceededWithIssues"
	ResultFailed              TaskResult = "Failed"
	ResultAbandoned           TaskResult = "Abandoned"
	ResultCanceled            TaskResult = "Canceled"
	ResultSkipped             TaskResult = "Skipped"
)

// Values of needs.<job>.result.
const (
	NeedsSuccess   = "success"
	NeedsFailure   = "failure"
	NeedsCancelled = "cancelled"
	NeedsSkipped   = "skipped"
)

// ParseTaskResult matches s case-insensitively against the known results.
func ParseTaskResult(s string) (TaskResult, bool) {
	for _, r := range []TaskResult{
		ResultSucceeded, ResultSucceededWithIssues, ResultFailed,
		ResultAbandoned, ResultCanceled, ResultSkipped,
	} {
		if strings.EqualFold(s, string(r)) {
			return r, true
		}
	}
	return "", false
}

// Valid reports whether r is one of the known results.
func (r TaskResult) Valid() bool {
	p, ok := ParseTaskResult(string(r))
	return ok && p == r
}

// Succeeded reports whether dependents should treat r as a success.
func (r TaskResult) Succeeded() bool {
	return r == ResultSucceeded || r == ResultSucceededWithIssues
}

// NeedsResult maps r onto the value exposed as needs.<job>.result.
func (r TaskResult) NeedsResult() string {
	switch r {
	case ResultSucceeded, ResultSucceededWithIssues:
		return NeedsSuccess
	case ResultCanceled:
		return NeedsCancelled
	case ResultSkipped:
		return NeedsSkipped
	default:
		return NeedsFailure
	}
}

// Completion reports the end of one job request.
type Completion struct {
	JobID   string            `json:"job_id"`
	Result  TaskResult        `json:"result"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

// PlanReference identifies the run a request belongs to.
type PlanReference struct {
	PlanID     string `json:"plan_id"`
	PlanType   string `json:"plan_type"`
	ScopeID    string `json:"scope_id"`
	Version    int    `json:"version"`
	OwnerName  string `json:"owner_name,omitempty"`
	Repository string `json:"repository,omitempty"`
}

// TimelineReference identifies where a worker reports step records.
type TimelineReference struct {
	ID       string `json:"id"`
	ChangeID int    `json:"change_id"`
}

// Variable is a named value handed to the worker. Secret values are also
// listed in the request's mask hints.
type Variable struct {
	Value    string `json:"value"`
	IsSecret bool   `json:"is_secret,omitempty"`
}

// MaskHint tells the worker to scrub a value from its logs.
type MaskHint struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Endpoint is a service the worker may call back into.
type Endpoint struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	URL           string            `json:"url"`
	Scheme        string            `json:"scheme"`
	Authorization map[string]string `json:"authorization,omitempty"`
}

// Resources lists the endpoints available to a job.
type Resources struct {
	Endpoints []Endpoint `json:"endpoints"`
}

// WorkspaceOptions controls how the worker prepares its workspace.
type WorkspaceOptions struct {
	// Clean empties the job directory before the first step runs.
	Clean bool `json:"clean,omitempty"`
}

// StepReference identifies what a step runs. Only the fields that apply to
// Kind are set.
type StepReference struct {
	Kind           string `json:"kind"`
	Plugin         string `json:"plugin,omitempty"`
	Image          string `json:"image,omitempty"`
	RepositoryType string `json:"repository_type,omitempty"`
	Name           string `json:"name,omitempty"`
	Ref            string `json:"ref,omitempty"`
	Path           string `json:"path,omitempty"`
}

// Step is one step of a job request. Inputs, Environment and Timeout keep
// their document form so the worker can evaluate embedded expressions.
type Step struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	DisplayName      string         `json:"display_name"`
	Condition        string         `json:"condition"`
	Reference        StepReference  `json:"reference"`
	Inputs           map[string]any `json:"inputs,omitempty"`
	Environment      any            `json:"environment,omitempty"`
	TimeoutInMinutes int            `json:"timeout_in_minutes,omitempty"`
	Timeout          any            `json:"timeout,omitempty"`
	ContinueOnError  bool           `json:"continue_on_error,omitempty"`
	Enabled          bool           `json:"enabled"`
}

// JobRequest is the unit of work handed to a worker. Container, Services,
// Outputs, Environment and Defaults keep their document form.
type JobRequest struct {
	Plan           PlanReference       `json:"plan"`
	Timeline       TimelineReference   `json:"timeline"`
	RunID          string              `json:"run_id"`
	JobID          string              `json:"job_id"`
	JobName        string              `json:"job_name"`
	JobDisplayName string              `json:"job_display_name"`
	Pool           string              `json:"pool,omitempty"`
	Labels         []string            `json:"labels"`
	Container      any                 `json:"container,omitempty"`
	Services       any                 `json:"services,omitempty"`
	Environment    []any               `json:"environment,omitempty"`
	Variables      map[string]Variable `json:"variables"`
	MaskHints      []MaskHint          `json:"mask_hints,omitempty"`
	Resources      Resources           `json:"resources"`
	ContextData    map[string]any      `json:"context_data"`
	Workspace      WorkspaceOptions    `json:"workspace"`
	Steps          []Step              `json:"steps"`
	FileTable      []string            `json:"file_table"`
	Outputs        any                 `json:"outputs,omitempty"`
	Defaults       []any               `json:"defaults,omitempty"`
	EnvironmentRef string              `json:"environment_ref,omitempty"`

	TimeoutInMinutes       int  `json:"timeout_in_minutes"`
	CancelTimeoutInMinutes int  `json:"cancel_timeout_in_minutes"`
	ContinueOnError        bool `json:"continue_on_error,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}
