package orchestrator

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohae/deepcopy"

	"github.com/mattjoyce/runway/internal/pipeline"
	"github.com/mattjoyce/runway/internal/protocol"
	"github.com/mattjoyce/runway/internal/template"
)

// Well-known variables and endpoints of a job request.
const (
	VariableSystemGitHubToken = "system.github.token"
	VariableGitHubToken       = "github_token"
	VariableNewActionMetadata = "DistributedTask.NewActionMetadata"

	SystemConnectionEndpoint = "SystemVssConnection"

	planType    = "runway"
	planVersion = 12
)

// buildRequests evaluates the job's strategy against data and builds one
// request per configuration.
func (s *Session) buildRequests(j *jobState, data map[string]any) ([]*protocol.JobRequest, *pipeline.StrategyResult, error) {
	f := j.factory
	strategy := pipeline.SingleConfiguration(f.Name, f.DisplayName)
	if f.Strategy != nil {
		ctx := s.evalContext(data, j.status)
		tok, err := template.Evaluate(ctx, f.Strategy)
		if err != nil {
			return nil, nil, fmt.Errorf("evaluate strategy: %w", err)
		}
		res, ok := pipeline.ConvertToStrategy(ctx, tok, f.Name, f.DisplayName)
		if !ok {
			return nil, nil, fmt.Errorf("convert strategy: %w", ctx.Errors.Check())
		}
		strategy = res
	}

	requests := make([]*protocol.JobRequest, 0, len(strategy.Configurations))
	for _, cell := range strategy.Configurations {
		cellData := maps.Clone(data)
		for _, p := range cell.ContextData.Pairs {
			cellData[p.Key.String()] = template.ToContextData(p.Value)
		}
		req, err := s.buildRequest(j, cell, cellData)
		if err != nil {
			return nil, nil, fmt.Errorf("configuration %s: %w", cell.Name, err)
		}
		requests = append(requests, req)
	}
	return requests, strategy, nil
}

// buildRequest resolves the runtime parts of one configuration: runs-on,
// display name and timeouts. Everything else is carried in document form.
func (s *Session) buildRequest(j *jobState, cell *pipeline.StrategyConfiguration, data map[string]any) (*protocol.JobRequest, error) {
	f := j.factory
	ctx := s.evalContext(data, j.status)

	target := f.Target
	if target == nil {
		tok, err := template.Evaluate(ctx, f.JobTarget)
		if err != nil {
			return nil, fmt.Errorf("evaluate runs-on: %w", err)
		}
		target, _ = pipeline.ConvertToJobTarget(ctx, tok, false)
		if err := ctx.Errors.Check(); err != nil {
			return nil, fmt.Errorf("runs-on: %w", err)
		}
	}

	displayName := cell.DisplayName
	if f.JobDisplayName != nil {
		tok, err := template.Evaluate(ctx, f.JobDisplayName)
		if err != nil {
			return nil, fmt.Errorf("evaluate name: %w", err)
		}
		if name, ok := pipeline.ConvertToJobDisplayName(ctx, tok, false); ok {
			displayName = name
		}
	}

	timeout, err := s.resolveMinutes(ctx, f.Timeout, pipeline.DefaultJobTimeoutInMinutes, pipeline.ConvertToJobTimeout)
	if err != nil {
		return nil, err
	}
	cancelTimeout, err := s.resolveMinutes(ctx, f.CancelTimeout, pipeline.DefaultJobCancelTimeoutInMinutes, pipeline.ConvertToJobCancelTimeout)
	if err != nil {
		return nil, err
	}
	if err := ctx.Errors.Check(); err != nil {
		return nil, err
	}

	contextData := deepcopy.Copy(data).(map[string]any)

	variables, maskHints := s.variables()
	req := &protocol.JobRequest{
		Plan: protocol.PlanReference{
			PlanID:     s.planID,
			PlanType:   planType,
			ScopeID:    s.scopeID,
			Version:    planVersion,
			OwnerName:  s.workflowName(),
			Repository: s.opts.Repository,
		},
		Timeline:               protocol.TimelineReference{ID: uuid.NewString(), ChangeID: 1},
		RunID:                  s.id,
		JobID:                  uuid.NewString(),
		JobName:                cell.Name,
		JobDisplayName:         displayName,
		Pool:                   target.Pool,
		Labels:                 append([]string(nil), target.Labels...),
		Container:              template.ToContextData(f.Container),
		Services:               template.ToContextData(f.Services),
		Environment:            documents(s.pipeline.Env, f.Env),
		Variables:              variables,
		MaskHints:              maskHints,
		Resources:              s.resources(),
		ContextData:            contextData,
		Workspace:              protocol.WorkspaceOptions{Clean: f.CleanWorkspace},
		Steps:                  steps(f.Steps),
		FileTable:              append([]string(nil), s.pipeline.FileTable...),
		Outputs:                template.ToContextData(f.Outputs),
		Defaults:               documents(s.pipeline.Defaults, f.Defaults),
		EnvironmentRef:         s.engine.cfg.Environment,
		TimeoutInMinutes:       timeout,
		CancelTimeoutInMinutes: cancelTimeout,
		ContinueOnError:        f.ContinueOnError,
		EnqueuedAt:             time.Now().UTC(),
	}
	return req, nil
}

func (s *Session) resolveMinutes(ctx *template.Context, t template.Token, def int, convert func(*template.Context, template.Token, bool) (int, bool)) (int, error) {
	if t == nil {
		return def, nil
	}
	tok, err := template.Evaluate(ctx, t)
	if err != nil {
		return 0, err
	}
	if tok == nil || tok.Type() == template.TypeNull {
		return def, nil
	}
	n, ok := convert(ctx, tok, false)
	if !ok {
		return 0, ctx.Errors.Check()
	}
	return n, nil
}

// variables returns the token and secret variables with a mask hint for
// every secret value.
func (s *Session) variables() (map[string]protocol.Variable, []protocol.MaskHint) {
	cfg := s.engine.cfg
	vars := map[string]protocol.Variable{
		VariableSystemGitHubToken: {Value: cfg.GitHubToken, IsSecret: true},
		VariableGitHubToken:       {Value: cfg.GitHubToken, IsSecret: true},
		VariableNewActionMetadata: {Value: "true"},
	}
	for name, value := range cfg.Secrets {
		vars[name] = protocol.Variable{Value: value, IsSecret: true}
	}

	seen := make(map[string]struct{})
	var hints []protocol.MaskHint
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := vars[name]
		if !v.IsSecret || strings.TrimSpace(v.Value) == "" {
			continue
		}
		if _, dup := seen[v.Value]; dup {
			continue
		}
		seen[v.Value] = struct{}{}
		hints = append(hints, protocol.MaskHint{Type: "regex", Value: v.Value})
	}
	return vars, hints
}

func (s *Session) resources() protocol.Resources {
	cfg := s.engine.cfg
	ep := protocol.Endpoint{
		ID:     uuid.NewString(),
		Name:   SystemConnectionEndpoint,
		URL:    cfg.APIURL,
		Scheme: "OAuth",
	}
	if cfg.GitHubToken != "" {
		ep.Authorization = map[string]string{"AccessToken": cfg.GitHubToken}
	}
	return protocol.Resources{Endpoints: []protocol.Endpoint{ep}}
}

// documents lists the non-empty tokens in document form, workflow level
// first.
func documents(tokens ...template.Token) []any {
	var out []any
	for _, t := range tokens {
		if t == nil || t.Type() == template.TypeNull {
			continue
		}
		out = append(out, template.ToContextData(t))
	}
	return out
}

// steps copies the job's steps with fresh ids.
func steps(in []*pipeline.ActionStep) []protocol.Step {
	out := make([]protocol.Step, 0, len(in))
	for _, st := range in {
		step := protocol.Step{
			ID:               uuid.NewString(),
			Name:             st.Name,
			DisplayName:      st.DisplayName,
			Condition:        st.Condition,
			Reference:        stepReference(st.Reference),
			TimeoutInMinutes: st.TimeoutInMinutes,
			ContinueOnError:  st.ContinueOnError,
			Enabled:          st.Enabled,
		}
		if st.Inputs != nil {
			step.Inputs, _ = template.ToContextData(st.Inputs).(map[string]any)
		}
		if st.Environment != nil {
			step.Environment = template.ToContextData(st.Environment)
		}
		if st.Timeout != nil {
			step.Timeout = template.ToContextData(st.Timeout)
		}
		out = append(out, step)
	}
	return out
}

func stepReference(r pipeline.StepReference) protocol.StepReference {
	switch x := r.(type) {
	case *pipeline.ScriptReference:
		return protocol.StepReference{Kind: x.Kind()}
	case *pipeline.PluginReference:
		return protocol.StepReference{Kind: x.Kind(), Plugin: x.Plugin}
	case *pipeline.ContainerRegistryReference:
		return protocol.StepReference{Kind: x.Kind(), Image: x.Image}
	case *pipeline.RepositoryPathReference:
		return protocol.StepReference{Kind: x.Kind(), RepositoryType: x.RepositoryType, Name: x.Name, Ref: x.Ref, Path: x.Path}
	}
	return protocol.StepReference{}
}
