// Package pipeline converts a workflow token tree into a typed pipeline
// model: job factories, steps, strategies and triggers.
package pipeline

import (
	"github.com/mattjoyce/runway/internal/template"
)

// Well-known workflow keys.
const (
	keyCancelTimeout    = "cancel-timeout-minutes"
	keyCheckout         = "checkout"
	keyClean            = "clean"
	keyContainer        = "container"
	keyContinueOnError  = "continue-on-error"
	keyDefaults         = "defaults"
	keyEnv              = "env"
	keyExclude          = "exclude"
	keyFailFast         = "fail-fast"
	keyFetchDepth       = "fetch-depth"
	keyID               = "id"
	keyIf               = "if"
	keyInclude          = "include"
	keyJobs             = "jobs"
	keyLfs              = "lfs"
	keyMatrix           = "matrix"
	keyMaxParallel      = "max-parallel"
	keyName             = "name"
	keyNeeds            = "needs"
	keyOn               = "on"
	keyOutputs          = "outputs"
	keyParallel         = "parallel"
	keyPath             = "path"
	keyPool             = "pool"
	keyRun              = "run"
	keyRunsOn           = "runs-on"
	keyServices         = "services"
	keyShell            = "shell"
	keySteps            = "steps"
	keyStrategy         = "strategy"
	keySubmodules       = "submodules"
	keyTimeout          = "timeout-minutes"
	keyUses             = "uses"
	keyWith             = "with"
	keyWorkingDirectory = "working-directory"
	keyWorkspace        = "workspace"
)

// Step input names.
const (
	InputScript           = "script"
	InputWorkingDirectory = "workingDirectory"
	InputShell            = "shell"
	InputRepository       = "repository"
	InputPath             = "path"
	InputClean            = "clean"
	InputFetchDepth       = "fetchDepth"
	InputLfs              = "lfs"
	InputSubmodules       = "submodules"
)

const (
	// SelfAlias names the repository that holds the workflow.
	SelfAlias = "self"
	// RepositoryTypeGitHub marks a remote owner/repo reference.
	RepositoryTypeGitHub = "GitHub"
	// CheckoutPlugin is the built-in checkout step.
	CheckoutPlugin = "checkout"
)

// PipelineTemplate is the converted workflow.
type PipelineTemplate struct {
	Name        string
	Triggers    *Triggers
	Env         template.Token
	Defaults    template.Token
	Jobs        []*JobFactory
	Errors      []template.ValidationError
	FileTable   []string
	Fingerprint string
}

// JobFactory describes one job before expansion. Tokens that may hold
// expressions are kept unevaluated and resolved when the job is expanded.
type JobFactory struct {
	Name        string
	DisplayName string
	// JobDisplayName is set instead of DisplayName when the name is an
	// expression.
	JobDisplayName  template.Token
	Steps           []*ActionStep
	DependsOn       []string
	Target          *Target
	JobTarget       template.Token
	Strategy        template.Token
	Timeout         template.Token
	CancelTimeout   template.Token
	ContinueOnError bool
	Condition       string
	Env             template.Token
	Defaults        template.Token
	Container       template.Token
	Services        template.Token
	Outputs         template.Token
	// CleanWorkspace comes from workspace.clean.
	CleanWorkspace bool
}

// Target is a resolved runs-on value.
type Target struct {
	Pool   string
	Labels []string
}

// ActionStep is one step of a job.
type ActionStep struct {
	Name             string
	DisplayName      string
	Condition        string
	TimeoutInMinutes int
	// Timeout holds an unresolved timeout expression.
	Timeout         template.Token
	ContinueOnError bool
	Environment     template.Token
	Inputs          *template.MappingToken
	Reference       StepReference
	Enabled         bool
}

// StepReference identifies what a step executes.
type StepReference interface {
	Kind() string
}

// ScriptReference runs the step's script input.
type ScriptReference struct{}

// PluginReference runs a built-in plugin such as checkout.
type PluginReference struct {
	Plugin string
}

// ContainerRegistryReference runs a container image.
type ContainerRegistryReference struct {
	Image string
}

// RepositoryPathReference runs an action stored in a repository.
type RepositoryPathReference struct {
	RepositoryType string
	Name           string
	Ref            string
	Path           string
}

func (ScriptReference) Kind() string            { return "script" }
func (PluginReference) Kind() string            { return "plugin" }
func (ContainerRegistryReference) Kind() string { return "container" }
func (RepositoryPathReference) Kind() string    { return "repository" }

// StrategyConfiguration is one expanded cell of a job. ContextData holds the
// strategy, matrix and parallel values, in that order.
type StrategyConfiguration struct {
	Name        string
	DisplayName string
	ContextData *template.MappingToken
}

// StrategyResult is a converted strategy.
type StrategyResult struct {
	FailFast       bool
	MaxParallel    int
	Configurations []*StrategyConfiguration
}
