package pipeline

import (
	"strings"

	"github.com/mattjoyce/runway/internal/graph"
	"github.com/mattjoyce/runway/internal/template"
)

// Defaults applied when a job leaves its timeouts unset.
const (
	DefaultJobTimeoutInMinutes       = 360
	DefaultJobCancelTimeoutInMinutes = 5
)

// Job validation codes reported through graph.Node.Validate.
const (
	CodeTargetRequired = "TargetRequired"
	CodeStepsRequired  = "StepsRequired"
)

// ConvertToPipeline converts a workflow token tree. Problems are recorded in
// ctx and conversion carries on where it can, so the returned template lists
// every error found.
func ConvertToPipeline(ctx *template.Context, root template.Token) *PipelineTemplate {
	result := &PipelineTemplate{}
	if m, ok := assertMapping(ctx, root, "workflow"); ok {
		for _, p := range m.Pairs {
			if isExpression(p.Key) {
				continue
			}
			key, ok := assertLiteral(ctx, p.Key, "workflow")
			if !ok {
				continue
			}
			switch key.String() {
			case keyOn:
				result.Triggers = convertToTriggers(ctx, p.Value)
			case keyName:
				if lit, ok := assertLiteral(ctx, p.Value, keyName); ok {
					result.Name = lit.String()
				}
			case keyEnv:
				ConvertToEnvironment(ctx, p.Value, true)
				result.Env = p.Value
			case keyDefaults:
				if _, ok := assertMapping(ctx, p.Value, keyDefaults); ok {
					result.Defaults = p.Value
				}
			case keyJobs:
				result.Jobs = convertToJobFactories(ctx, p.Value)
			default:
				unexpectedValue(ctx, key, "workflow")
			}
		}
	}

	if len(result.Jobs) > 0 {
		nodes := make([]graph.Node, len(result.Jobs))
		for i, job := range result.Jobs {
			nodes[i] = job
		}
		for _, e := range graph.Validate(nodes, keyJobs, nil).Errors {
			// invalid names were already reported with their position
			if e.Code == graph.CodeNameInvalid {
				continue
			}
			ctx.Errors.Add(template.ValidationError{Code: e.Code, Message: e.Message})
		}
	}

	result.Errors = ctx.Errors.Items()
	result.FileTable = ctx.Files()
	return result
}

func convertToJobFactories(ctx *template.Context, t template.Token) []*JobFactory {
	m, ok := assertMapping(ctx, t, keyJobs)
	if !ok {
		return nil
	}
	var jobs []*JobFactory
	for _, p := range m.Pairs {
		key, ok := assertLiteral(ctx, p.Key, keyJobs)
		if !ok {
			continue
		}
		name := key.String()
		if !graph.IsValidName(name) {
			ctx.Errorf(key, "Job name %s is invalid. Names must start with a letter or '_' and contain only alphanumeric characters, '-', or '_'", name)
		}
		if job := convertToJobFactory(ctx, name, p.Value); job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

func convertToJobFactory(ctx *template.Context, name string, t template.Token) *JobFactory {
	m, ok := assertMapping(ctx, t, "job "+name)
	if !ok {
		return nil
	}
	job := &JobFactory{Name: name, Condition: DefaultCondition}

	var strategy template.Token
	for _, p := range m.Pairs {
		if isExpression(p.Key) {
			continue
		}
		key, ok := assertLiteral(ctx, p.Key, "job "+name)
		if !ok {
			continue
		}
		switch key.String() {
		case keyName:
			if isExpression(p.Value) {
				job.JobDisplayName = p.Value
			} else if s, ok := ConvertToJobDisplayName(ctx, p.Value, false); ok {
				job.DisplayName = s
			}
		case keyNeeds:
			job.DependsOn = convertToNeeds(ctx, p.Value)
		case keyRunsOn:
			job.Target, job.JobTarget = ConvertToJobTarget(ctx, p.Value, true)
		case keyIf:
			if cond, ok := ConvertToIfCondition(ctx, p.Value, true); ok {
				job.Condition = cond
			}
		case keySteps:
			job.Steps = convertToSteps(ctx, name, p.Value)
		case keyStrategy:
			strategy = p.Value
		case keyTimeout:
			ConvertToJobTimeout(ctx, p.Value, true)
			job.Timeout = p.Value
		case keyCancelTimeout:
			ConvertToJobCancelTimeout(ctx, p.Value, true)
			job.CancelTimeout = p.Value
		case keyContinueOnError:
			job.ContinueOnError, _ = convertToBool(ctx, p.Value, keyContinueOnError)
		case keyEnv:
			ConvertToEnvironment(ctx, p.Value, true)
			job.Env = p.Value
		case keyDefaults:
			if _, ok := assertMapping(ctx, p.Value, keyDefaults); ok {
				job.Defaults = p.Value
			}
		case keyContainer:
			job.Container = p.Value
		case keyServices:
			if isExpression(p.Value) {
				job.Services = p.Value
			} else if _, ok := assertMapping(ctx, p.Value, keyServices); ok {
				job.Services = p.Value
			}
		case keyOutputs:
			convertToStringMap(ctx, p.Value, keyOutputs, true)
			job.Outputs = p.Value
		case keyWorkspace:
			job.CleanWorkspace = convertToWorkspace(ctx, p.Value)
		default:
			unexpectedValue(ctx, key, "job "+name)
		}
	}
	if job.DisplayName == "" && job.JobDisplayName == nil {
		job.DisplayName = name
	}

	if strategy != nil {
		job.Strategy = strategy
		// Literal strategies are expanded once here so their errors surface
		// at load time.
		if !containsExpression(strategy) {
			ConvertToStrategy(ctx, strategy, name, job.DisplayName)
		}
	}
	return job
}

func convertToWorkspace(ctx *template.Context, t template.Token) bool {
	m, ok := assertMapping(ctx, t, keyWorkspace)
	if !ok {
		return false
	}
	var clean bool
	for _, p := range m.Pairs {
		key, ok := assertLiteral(ctx, p.Key, keyWorkspace)
		if !ok {
			continue
		}
		if key.String() != keyClean {
			unexpectedValue(ctx, key, keyWorkspace)
			continue
		}
		clean, _ = convertToBool(ctx, p.Value, keyWorkspace+"."+keyClean)
	}
	return clean
}

func convertToNeeds(ctx *template.Context, t template.Token) []string {
	switch x := t.(type) {
	case *template.StringToken:
		return []string{x.Value}
	case *template.SequenceToken:
		var needs []string
		for _, item := range x.Items {
			if lit, ok := item.(*template.StringToken); ok {
				needs = append(needs, lit.Value)
				continue
			}
			unexpectedType(ctx, item, keyNeeds, template.TypeString)
		}
		return needs
	}
	unexpectedType(ctx, t, keyNeeds, template.TypeSequence)
	return nil
}

// ConvertToJobTarget reads runs-on. A value containing expressions is
// returned unchanged as the second result for evaluation at dispatch time,
// unless allowExpressions is false.
func ConvertToJobTarget(ctx *template.Context, t template.Token, allowExpressions bool) (*Target, template.Token) {
	if allowExpressions && containsExpression(t) {
		return nil, t
	}
	switch x := t.(type) {
	case *template.StringToken:
		pool := PoolNameForVMImage(x.Value)
		if pool == "" {
			ctx.Errorf(x, "Unexpected VM image '%s'", x.Value)
		}
		return &Target{Pool: pool, Labels: []string{strings.ToLower(x.Value)}}, nil
	case *template.SequenceToken:
		target := &Target{}
		for _, item := range x.Items {
			lit, ok := item.(*template.StringToken)
			if !ok {
				unexpectedType(ctx, item, keyRunsOn, template.TypeString)
				continue
			}
			if target.Pool == "" {
				target.Pool = PoolNameForVMImage(lit.Value)
			}
			target.Labels = append(target.Labels, strings.ToLower(lit.Value))
		}
		if len(target.Labels) == 0 {
			ctx.Errorf(x, "runs-on must name at least one label")
		}
		return target, nil
	case *template.MappingToken:
		target := &Target{}
		for _, p := range x.Pairs {
			key, ok := assertLiteral(ctx, p.Key, keyRunsOn)
			if !ok {
				continue
			}
			if key.String() != keyPool {
				unexpectedValue(ctx, key, keyRunsOn)
				continue
			}
			if lit, ok := assertLiteral(ctx, p.Value, keyPool); ok {
				target.Pool = lit.String()
				target.Labels = []string{strings.ToLower(lit.String())}
			}
		}
		if target.Pool == "" {
			ctx.Errorf(x, "runs-on must define a pool")
		}
		return target, nil
	}
	unexpectedType(ctx, t, keyRunsOn, template.TypeString)
	return nil, nil
}

// ConvertToJobTimeout reads timeout-minutes. Expressions are left for
// runtime when allowExpressions is true.
func ConvertToJobTimeout(ctx *template.Context, t template.Token, allowExpressions bool) (int, bool) {
	return convertToInt(ctx, t, keyTimeout, "Invalid timeout '%s'", allowExpressions, 0)
}

// ConvertToJobCancelTimeout reads cancel-timeout-minutes.
func ConvertToJobCancelTimeout(ctx *template.Context, t template.Token, allowExpressions bool) (int, bool) {
	return convertToInt(ctx, t, keyCancelTimeout, "Invalid cancel timeout '%s'", allowExpressions, 0)
}

// ConvertToJobDisplayName reads a job's name.
func ConvertToJobDisplayName(ctx *template.Context, t template.Token, allowExpressions bool) (string, bool) {
	if allowExpressions && isExpression(t) {
		return "", false
	}
	lit, ok := assertLiteral(ctx, t, keyName)
	if !ok {
		return "", false
	}
	return lit.String(), true
}

// ConvertToEnvironment reads an env block into a mapping of string keys to
// scalar values. With allowExpressions, an expression in place of the block
// yields nil without error and expression keys are skipped.
func ConvertToEnvironment(ctx *template.Context, t template.Token, allowExpressions bool) *template.MappingToken {
	return convertToStringMap(ctx, t, keyEnv, allowExpressions)
}

// ConvertToInputs reads a step's with block.
func ConvertToInputs(ctx *template.Context, t template.Token, allowExpressions bool) *template.MappingToken {
	return convertToStringMap(ctx, t, keyWith, allowExpressions)
}

func convertToStringMap(ctx *template.Context, t template.Token, what string, allowExpressions bool) *template.MappingToken {
	if allowExpressions && isExpression(t) {
		return nil
	}
	m, ok := assertMapping(ctx, t, what)
	if !ok {
		return nil
	}
	out := &template.MappingToken{Position: m.Position}
	for _, p := range m.Pairs {
		if isExpression(p.Key) {
			if !allowExpressions {
				unexpectedType(ctx, p.Key, what, template.TypeString)
			}
			continue
		}
		key, ok := assertLiteral(ctx, p.Key, what)
		if !ok {
			continue
		}
		if isExpression(p.Value) && !allowExpressions {
			unexpectedType(ctx, p.Value, what, template.TypeString)
			continue
		}
		value, ok := assertScalar(ctx, p.Value, what)
		if !ok {
			continue
		}
		out.Pairs = append(out.Pairs, template.Pair{
			Key:   &template.StringToken{Position: key.Pos(), Value: key.String()},
			Value: value,
		})
	}
	return out
}

// NodeName implements graph.Node.
func (j *JobFactory) NodeName() string { return j.Name }

// NodeDependsOn implements graph.Node.
func (j *JobFactory) NodeDependsOn() []string { return j.DependsOn }

// Validate implements graph.Node.
func (j *JobFactory) Validate() []graph.Error {
	var errs []graph.Error
	if j.Target == nil && j.JobTarget == nil {
		errs = append(errs, graph.Error{Code: CodeTargetRequired, Message: "Job " + j.Name + " must define runs-on."})
	}
	if len(j.Steps) == 0 {
		errs = append(errs, graph.Error{Code: CodeStepsRequired, Message: "Job " + j.Name + " must define at least one step."})
	}
	return errs
}
