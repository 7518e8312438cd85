package pipeline

import (
	"strconv"
	"strings"

	"github.com/mattjoyce/runway/internal/graph"
	"github.com/mattjoyce/runway/internal/template"
)

const dockerPrefix = "docker://"

type stepNode struct{ step *ActionStep }

func (n stepNode) NodeName() string        { return n.step.Name }
func (n stepNode) NodeDependsOn() []string { return nil }
func (n stepNode) Validate() []graph.Error { return nil }

// convertToSteps reads a job's steps. An implicit checkout of self is
// inserted first unless the job has a checkout step of its own; a disabled
// checkout only suppresses the implicit one.
func convertToSteps(ctx *template.Context, jobName string, t template.Token) []*ActionStep {
	seq, ok := assertSequence(ctx, t, keySteps)
	if !ok || len(seq.Items) == 0 {
		return nil
	}

	var steps []*ActionStep
	hasCheckout := false
	for _, item := range seq.Items {
		step := convertToStep(ctx, item)
		if step == nil {
			continue
		}
		if ref, ok := step.Reference.(*PluginReference); ok && ref.Plugin == CheckoutPlugin {
			hasCheckout = true
			if !step.Enabled {
				continue
			}
		}
		steps = append(steps, step)
	}
	if !hasCheckout {
		steps = append([]*ActionStep{newCheckoutStep(SelfAlias)}, steps...)
	}

	nodes := make([]graph.Node, len(steps))
	for i, s := range steps {
		nodes[i] = stepNode{s}
	}
	res := graph.Validate(nodes, keyJobs+"."+jobName+"."+keySteps, defaultStepName)
	for _, e := range res.Errors {
		if e.Code == graph.CodeNameInvalid {
			continue
		}
		ctx.Errors.Add(template.ValidationError{Code: e.Code, Message: e.Message})
	}
	for i, s := range steps {
		if s.Name == "" {
			s.Name = res.Names[i]
		}
	}
	return steps
}

// defaultStepName names an unnamed step after what it runs: __run,
// __run_2 and so on.
func defaultStepName(n graph.Node, index int) string {
	base := stepNameBase(n)
	switch {
	case base == "":
		return graph.IndexedName(n, index)
	case index == 1:
		return base
	}
	return base + "_" + strconv.Itoa(index)
}

func stepNameBase(n graph.Node) string {
	switch ref := n.(stepNode).step.Reference.(type) {
	case *ScriptReference:
		return "__run"
	case *PluginReference:
		return "__" + ref.Plugin
	case *ContainerRegistryReference:
		return "__docker"
	case *RepositoryPathReference:
		if ref.RepositoryType == SelfAlias {
			return "__self"
		}
		b := NewReferenceNameBuilder()
		b.AppendSegment(ref.Name)
		name, err := b.Build()
		if err != nil {
			return ""
		}
		return "__" + name
	}
	return ""
}

func newCheckoutStep(repository string) *ActionStep {
	inputs := &template.MappingToken{}
	inputs.Add(InputRepository, &template.StringToken{Value: repository})
	return &ActionStep{
		DisplayName: "Checkout",
		Condition:   DefaultCondition,
		Inputs:      inputs,
		Reference:   &PluginReference{Plugin: CheckoutPlugin},
		Enabled:     true,
	}
}

var checkoutInputs = map[string]string{
	keyPath:       InputPath,
	keyClean:      InputClean,
	keyFetchDepth: InputFetchDepth,
	keyLfs:        InputLfs,
	keySubmodules: InputSubmodules,
}

func convertToStep(ctx *template.Context, t template.Token) *ActionStep {
	m, ok := assertMapping(ctx, t, "step")
	if !ok {
		return nil
	}
	step := &ActionStep{Condition: DefaultCondition, Enabled: true}

	var run, checkout, uses, with, workingDirectory, shell template.Token
	var checkoutOptions []template.Pair
	for _, p := range m.Pairs {
		if isExpression(p.Key) {
			continue
		}
		key, ok := assertLiteral(ctx, p.Key, "step")
		if !ok {
			continue
		}
		switch k := key.String(); k {
		case keyID:
			lit, ok := assertLiteral(ctx, p.Value, keyID)
			if !ok {
				continue
			}
			step.Name = lit.String()
			if !graph.IsValidName(step.Name) {
				ctx.Errorf(lit, "Action id %s is invalid. Ids must start with a letter or '_' and contain only alphanumeric characters, '-', or '_'", step.Name)
			}
		case keyName:
			if lit, ok := assertScalar(ctx, p.Value, keyName); ok {
				step.DisplayName = lit.String()
			}
		case keyIf:
			if cond, ok := ConvertToIfCondition(ctx, p.Value, false); ok {
				step.Condition = cond
			}
		case keyRun:
			run, _ = assertScalar(ctx, p.Value, keyRun)
		case keyCheckout:
			checkout, _ = assertLiteral(ctx, p.Value, keyCheckout)
		case keyUses:
			uses, _ = assertLiteral(ctx, p.Value, keyUses)
		case keyWith:
			with = p.Value
		case keyEnv:
			ConvertToEnvironment(ctx, p.Value, true)
			step.Environment = p.Value
		case keyTimeout:
			if isExpression(p.Value) {
				step.Timeout = p.Value
			} else if n, ok := convertToInt(ctx, p.Value, keyTimeout, "Invalid timeout '%s'", false, 0); ok {
				step.TimeoutInMinutes = n
			}
		case keyContinueOnError:
			step.ContinueOnError, _ = convertToBool(ctx, p.Value, keyContinueOnError)
		case keyWorkingDirectory:
			workingDirectory, _ = assertScalar(ctx, p.Value, k)
		case keyShell:
			shell, _ = assertScalar(ctx, p.Value, k)
		case keyPath, keyClean, keyFetchDepth, keyLfs, keySubmodules:
			if v, ok := assertScalar(ctx, p.Value, k); ok {
				checkoutOptions = append(checkoutOptions, template.Pair{
					Key:   &template.StringToken{Position: key.Pos(), Value: checkoutInputs[k]},
					Value: v,
				})
			}
		default:
			unexpectedValue(ctx, key, "step")
		}
	}

	defined := 0
	for _, tok := range []template.Token{run, checkout, uses} {
		if tok != nil {
			defined++
		}
	}
	switch {
	case defined == 0:
		ctx.Errorf(m, "Either 'uses' or 'run' is required")
		return nil
	case defined > 1:
		ctx.Errorf(m, "A step may define only one of 'run', 'uses' and 'checkout'")
		return nil
	}
	if len(checkoutOptions) > 0 && checkout == nil {
		ctx.Errorf(m, "Checkout options require a 'checkout' step")
	}

	switch {
	case run != nil:
		step.Reference = &ScriptReference{}
		step.Inputs = &template.MappingToken{}
		step.Inputs.Add(InputScript, run)
		if workingDirectory != nil {
			step.Inputs.Add(InputWorkingDirectory, workingDirectory)
		}
		if shell != nil {
			step.Inputs.Add(InputShell, shell)
		}
		if step.DisplayName == "" {
			step.DisplayName = "Run: " + firstLine(run.String())
		}
	case checkout != nil:
		if !convertCheckout(ctx, step, checkout.(template.LiteralToken)) {
			return nil
		}
		step.Inputs.Pairs = append(step.Inputs.Pairs, checkoutOptions...)
	default:
		lit := uses.(template.LiteralToken)
		ref, ok := parseUses(lit.String())
		if !ok {
			ctx.Errorf(lit, "Expected format {org}/{repo}[/path]@ref. Actual '%s'", lit.String())
			return nil
		}
		step.Reference = ref
		step.Inputs = &template.MappingToken{}
		if with != nil {
			if isExpression(with) {
				unexpectedType(ctx, with, keyWith, template.TypeMapping)
			} else if inputs := ConvertToInputs(ctx, with, true); inputs != nil {
				step.Inputs = inputs
			}
		}
		if step.DisplayName == "" {
			step.DisplayName = "Action: " + lit.String()
		}
	}
	if with != nil && uses == nil {
		ctx.Errorf(with, "'with' is only valid for 'uses' steps")
	}
	return step
}

func convertCheckout(ctx *template.Context, step *ActionStep, lit template.LiteralToken) bool {
	repository := lit.String()
	switch {
	case strings.EqualFold(repository, "true"):
		repository = SelfAlias
	case strings.EqualFold(repository, "false"):
		repository = SelfAlias
		step.Enabled = false
	case strings.TrimSpace(repository) == "":
		ctx.Errorf(lit, "Unexpected value '%s' for %s", repository, keyCheckout)
		return false
	}
	checkout := newCheckoutStep(repository)
	step.Reference = checkout.Reference
	step.Inputs = checkout.Inputs
	if step.DisplayName == "" {
		step.DisplayName = checkout.DisplayName
	}
	return true
}

// parseUses reads docker://image, ./path and owner/repo[/path]@ref.
func parseUses(value string) (StepReference, bool) {
	switch {
	case strings.HasPrefix(value, dockerPrefix):
		image := value[len(dockerPrefix):]
		if image == "" {
			return nil, false
		}
		return &ContainerRegistryReference{Image: image}, true
	case strings.HasPrefix(value, "./"), strings.HasPrefix(value, `.\`):
		return &RepositoryPathReference{RepositoryType: SelfAlias, Path: value}, true
	}

	at := strings.LastIndexByte(value, '@')
	if at <= 0 || at == len(value)-1 {
		return nil, false
	}
	repoPath, ref := value[:at], value[at+1:]
	parts := strings.SplitN(repoPath, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, false
	}
	reference := &RepositoryPathReference{
		RepositoryType: RepositoryTypeGitHub,
		Name:           parts[0] + "/" + parts[1],
		Ref:            ref,
	}
	if len(parts) == 3 {
		if parts[2] == "" {
			return nil, false
		}
		reference.Path = parts[2]
	}
	return reference, true
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, " \t\r\n")
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
