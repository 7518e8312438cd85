package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/runway/internal/config"
	"github.com/mattjoyce/runway/internal/dispatch"
	"github.com/mattjoyce/runway/internal/graph"
	"github.com/mattjoyce/runway/internal/log"
	"github.com/mattjoyce/runway/internal/orchestrator"
	"github.com/mattjoyce/runway/internal/pipeline"
	"github.com/mattjoyce/runway/internal/protocol"
	"github.com/mattjoyce/runway/internal/queue"
	"github.com/mattjoyce/runway/internal/template"
	"github.com/mattjoyce/runway/internal/workspace"
)

// loadWorkflow reads path with the configured limits. Conversion errors are
// left in p.Errors for the caller to report.
func loadWorkflow(cfg *config.Config, path string) (*pipeline.PipelineTemplate, error) {
	tctx := template.NewContext(cfg.Limits.Template(), log.NewTraceWriter(log.WithComponent("expr")))
	return pipeline.LoadFile(tctx, path)
}

func printErrors(w io.Writer, path string, errs []template.ValidationError) {
	for _, e := range errs {
		fmt.Fprintf(w, "%s: %s\n", path, e.Error())
	}
	fmt.Fprintf(w, "%s: %d error(s)\n", path, len(errs))
}

func validateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check workflow files and print every error",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := false
			for _, path := range args {
				p, err := loadWorkflow(cfg, path)
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", path, err)
					failed = true
					continue
				}
				if len(p.Errors) > 0 {
					printErrors(out, path, p.Errors)
					failed = true
					continue
				}
				fmt.Fprintf(out, "%s: valid (%d job(s))\n", path, len(p.Jobs))
			}
			if failed {
				return errSilent
			}
			return nil
		},
	}
}

// planEntry is one job in dependency order.
type planEntry struct {
	Name         string   `json:"name"`
	Needs        []string `json:"needs"`
	Dependencies []string `json:"dependencies"`
}

type plan struct {
	Workflow    string      `json:"workflow"`
	Triggers    []string    `json:"triggers"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	Jobs        []planEntry `json:"jobs"`
}

func buildPlan(path string, p *pipeline.PipelineTemplate) plan {
	pl := plan{
		Workflow:    p.Name,
		Triggers:    p.Triggers.EventNames(),
		Fingerprint: p.Fingerprint,
		Jobs:        make([]planEntry, 0, len(p.Jobs)),
	}
	if pl.Workflow == "" {
		pl.Workflow = path
	}
	if pl.Triggers == nil {
		pl.Triggers = []string{}
	}

	nodes := make([]graph.Node, len(p.Jobs))
	for i, j := range p.Jobs {
		nodes[i] = j
	}
	graph.Traverse(nodes, func(n graph.Node, deps []string) {
		needs := append([]string{}, n.NodeDependsOn()...)
		pl.Jobs = append(pl.Jobs, planEntry{Name: n.NodeName(), Needs: needs, Dependencies: deps})
	})
	return pl
}

func planCmd(g *globalFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "plan <file>",
		Short: "Print the jobs of a workflow in dependency order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(false)
			if err != nil {
				return err
			}
			path := args[0]
			out := cmd.OutOrStdout()

			p, err := loadWorkflow(cfg, path)
			if err != nil {
				return err
			}
			if len(p.Errors) > 0 {
				printErrors(out, path, p.Errors)
				return errSilent
			}

			pl := buildPlan(path, p)
			if jsonOut {
				data, err := json.MarshalIndent(pl, "", "  ")
				if err != nil {
					return fmt.Errorf("render plan: %w", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			fmt.Fprintf(out, "Workflow : %s\n", pl.Workflow)
			if len(pl.Triggers) == 0 {
				fmt.Fprintf(out, "Triggers : <any event>\n")
			} else {
				fmt.Fprintf(out, "Triggers : %s\n", strings.Join(pl.Triggers, ", "))
			}
			fmt.Fprintf(out, "\n")
			width := 0
			for _, j := range pl.Jobs {
				width = max(width, len(j.Name))
			}
			for i, j := range pl.Jobs {
				deps := "-"
				if len(j.Dependencies) > 0 {
					deps = strings.Join(j.Dependencies, ", ")
				}
				fmt.Fprintf(out, "%2d. %-*s  after: %s\n", i+1, width, j.Name, deps)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the plan as JSON")
	return cmd
}

type runFlags struct {
	event      string
	ref        string
	sha        string
	repository string
	actor      string
	payload    string
	result     string
	jobResults map[string]string
	outputs    []string
	executor   string
	workspace  string
	timeout    time.Duration
}

func runCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a workflow locally",
		Long: `Run a workflow in-process. By default every job completes with --result
without running anything; --executor spawns a real executor per job.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(false)
			if err != nil {
				return err
			}
			return runLocal(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.event, "event", "push", "Event name that triggers the run")
	fl.StringVar(&f.ref, "ref", "refs/heads/main", "Git ref of the run")
	fl.StringVar(&f.sha, "sha", "", "Commit sha of the run")
	fl.StringVar(&f.repository, "repository", "", "Repository as owner/name")
	fl.StringVar(&f.actor, "actor", "", "User that triggered the run")
	fl.StringVar(&f.payload, "payload", "", "JSON file exposed as github.event")
	fl.StringVar(&f.result, "result", string(protocol.ResultSucceeded), "Result reported for every job")
	fl.StringToStringVar(&f.jobResults, "job-result", nil, "Per-job result override, as job=Result")
	fl.StringArrayVar(&f.outputs, "output", nil, "Job output, as job.name=value")
	fl.StringVar(&f.executor, "executor", "", "Executor to spawn for each job instead of completing it")
	fl.StringVar(&f.workspace, "workspace", "", "Workspace directory for --executor (default: a temp dir)")
	fl.DurationVar(&f.timeout, "timeout", 30*time.Minute, "Cancel the run after this long")
	return cmd
}

// localWorker builds the worker for runLocal from the result and output
// flags, or an ExecWorker when an executor is named.
func localWorker(f *runFlags) (dispatch.Worker, func(), error) {
	if f.executor != "" {
		dir := f.workspace
		cleanup := func() {}
		if dir == "" {
			tmp, err := os.MkdirTemp("", "runway-run-")
			if err != nil {
				return nil, nil, fmt.Errorf("create workspace dir: %w", err)
			}
			dir = tmp
			cleanup = func() { _ = os.RemoveAll(tmp) }
		}
		ws, err := workspace.NewFSManager(dir)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("init workspaces: %w", err)
		}
		return &dispatch.ExecWorker{Entrypoint: f.executor, Workspaces: ws}, cleanup, nil
	}

	def, ok := protocol.ParseTaskResult(f.result)
	if !ok {
		return nil, nil, fmt.Errorf("invalid --result %q", f.result)
	}
	w := &dispatch.LocalWorker{
		Default: def,
		Results: make(map[string]protocol.TaskResult, len(f.jobResults)),
		Outputs: make(map[string]map[string]string),
	}
	for job, raw := range f.jobResults {
		r, ok := protocol.ParseTaskResult(raw)
		if !ok {
			return nil, nil, fmt.Errorf("invalid --job-result %s=%s", job, raw)
		}
		w.Results[job] = r
	}
	for _, o := range f.outputs {
		key, value, ok := strings.Cut(o, "=")
		job, name, okName := strings.Cut(key, ".")
		if !ok || !okName || job == "" || name == "" {
			return nil, nil, fmt.Errorf("invalid --output %q, want job.name=value", o)
		}
		if w.Outputs[job] == nil {
			w.Outputs[job] = make(map[string]string)
		}
		w.Outputs[job][name] = value
	}
	return w, func() {}, nil
}

func runLocal(ctx context.Context, out io.Writer, cfg *config.Config, path string, f *runFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	opts := orchestrator.Options{
		Event:      f.event,
		Ref:        f.ref,
		Sha:        f.sha,
		Repository: f.repository,
		Actor:      f.actor,
	}
	if f.payload != "" {
		data, err := os.ReadFile(f.payload)
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
		if err := json.Unmarshal(data, &opts.Payload); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}

	worker, cleanup, err := localWorker(f)
	if err != nil {
		return err
	}
	defer cleanup()

	q := queue.NewMemory()
	engine := orchestrator.NewEngine(engineConfig(cfg), q, orchestrator.WithLogger(log.WithComponent("orchestrator")))
	d := dispatch.New(q, engine, worker, dispatch.Config{
		Labels:       []string{queue.AnyLabel},
		PollInterval: 10 * time.Millisecond,
	})
	go func() { _ = d.Start(ctx) }()

	s, err := engine.StartFile(ctx, path, opts)
	if errors.Is(err, orchestrator.ErrNotTriggered) {
		fmt.Fprintf(out, "%s: not triggered by %s on %s\n", path, f.event, f.ref)
		return nil
	}
	if err != nil {
		return err
	}

	select {
	case <-s.Done():
	case <-ctx.Done():
		s.Cancel()
		<-s.Done()
	}

	width := 0
	jobs := s.Jobs()
	for _, j := range jobs {
		width = max(width, len(j.Name))
	}
	for _, j := range jobs {
		result := string(j.Result)
		if result == "" {
			result = "-"
		}
		fmt.Fprintf(out, "%-*s  %-10s %s\n", width, j.Name, j.State, result)
	}
	fmt.Fprintf(out, "run #%d %s: %s\n", s.RunNumber(), s.ID(), s.Result())

	if s.Result() != orchestrator.RunSuccess {
		return errSilent
	}
	return nil
}

// engineConfig maps the service config onto what every request carries.
func engineConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		ServerURL:   cfg.Server.ServerURL,
		APIURL:      cfg.Server.APIURL,
		GitHubToken: cfg.Server.GitHubToken,
		Secrets:     cfg.Secrets,
		Limits:      cfg.Limits.Template(),
		Environment: cfg.Service.Environment,
	}
}
