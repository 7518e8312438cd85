package orchestrator

import (
	"strconv"
	"strings"

	"github.com/mattjoyce/runway/internal/expr"
	"github.com/mattjoyce/runway/internal/pipeline"
	"github.com/mattjoyce/runway/internal/protocol"
	"github.com/mattjoyce/runway/internal/template"
)

// jobStatus is what the status functions see while a job's condition is
// evaluated. Values are ordered so the worst need wins.
type jobStatus int

const (
	statusSuccess jobStatus = iota
	// statusIncomplete means a need was skipped or canceled and none failed.
	statusIncomplete
	statusFailure
	statusCancelled
)

// needStatus is the status a completed or skipped job hands its dependents.
// A skipped job passes on a failure seen by its own needs.
func needStatus(j *jobState) jobStatus {
	switch j.result {
	case protocol.ResultSucceeded, protocol.ResultSucceededWithIssues:
		return statusSuccess
	case protocol.ResultFailed, protocol.ResultAbandoned:
		return statusFailure
	case protocol.ResultSkipped:
		if j.status == statusFailure {
			return statusFailure
		}
	}
	return statusIncomplete
}

func (s jobStatus) String() string {
	switch s {
	case statusIncomplete:
		return "incomplete"
	case statusFailure:
		return "failure"
	case statusCancelled:
		return "cancelled"
	default:
		return "success"
	}
}

// statusFunctions binds the status checks to status.
func statusFunctions(status jobStatus) []expr.FunctionInfo {
	is := func(want ...jobStatus) func(*expr.EvaluationContext, []expr.Node) (any, error) {
		return func(*expr.EvaluationContext, []expr.Node) (any, error) {
			for _, w := range want {
				if status == w {
					return true, nil
				}
			}
			return false, nil
		}
	}
	var out []expr.FunctionInfo
	for _, name := range pipeline.StatusFunctions {
		var eval func(*expr.EvaluationContext, []expr.Node) (any, error)
		switch name {
		case "always":
			eval = is(statusSuccess, statusIncomplete, statusFailure, statusCancelled)
		case "cancelled", "canceled":
			eval = is(statusCancelled)
		case "failure", "failed":
			eval = is(statusFailure)
		case "success", "succeeded":
			eval = is(statusSuccess)
		case "succeededOrFailed":
			eval = is(statusSuccess, statusIncomplete, statusFailure)
		default:
			continue
		}
		out = append(out, expr.FunctionInfo{Name: name, Evaluate: eval})
	}
	return out
}

func stateNamedValues() []expr.NamedValueInfo {
	out := make([]expr.NamedValueInfo, 0, len(pipeline.WorkflowNamedValues))
	for _, n := range pipeline.WorkflowNamedValues {
		out = append(out, expr.StateNamedValue(n))
	}
	return out
}

// evalContext returns a template context whose expressions resolve against
// data and whose status functions report status.
func (s *Session) evalContext(data map[string]any, status jobStatus) *template.Context {
	ctx := template.NewContext(s.engine.cfg.Limits, s.trace)
	return ctx.WithExtensions(stateNamedValues(), statusFunctions(status), data)
}

// githubContext builds the github object for one job of the session.
func (s *Session) githubContext(jobName string) map[string]any {
	o := s.opts
	owner := o.RepositoryOwner
	if owner == "" {
		owner, _, _ = strings.Cut(o.Repository, "/")
	}
	workflow := s.pipeline.Name
	if workflow == "" {
		workflow = o.WorkflowFile
	}
	event := o.Payload
	if event == nil {
		event = map[string]any{}
	}
	return map[string]any{
		"server_url":       s.engine.cfg.ServerURL,
		"api_url":          s.engine.cfg.APIURL,
		"workflow":         workflow,
		"sha":              o.Sha,
		"repository":       o.Repository,
		"repository_owner": owner,
		"ref":              o.Ref,
		"job":              jobName,
		"head_ref":         o.HeadRef,
		"base_ref":         o.BaseRef,
		"event":            event,
		"event_name":       o.Event,
		"actor":            o.Actor,
		"run_id":           strconv.FormatInt(s.runID, 10),
		"run_number":       strconv.FormatInt(s.runNumber, 10),
	}
}
