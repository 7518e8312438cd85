package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/runway/internal/events"
	"github.com/mattjoyce/runway/internal/expr"
	"github.com/mattjoyce/runway/internal/graph"
	"github.com/mattjoyce/runway/internal/log"
	"github.com/mattjoyce/runway/internal/pipeline"
	"github.com/mattjoyce/runway/internal/protocol"
	"github.com/mattjoyce/runway/internal/state"
	"github.com/mattjoyce/runway/internal/template"
)

// JobState is the lifecycle position of a job within a session.
type JobState string

const (
	StatePending    JobState = "pending"
	StateEvaluating JobState = "evaluating"
	StateSkipped    JobState = "skipped"
	StateExpanding  JobState = "expanding"
	StateQueued     JobState = "queued"
	StateCompleted  JobState = "completed"
	StateCancelled  JobState = "cancelled"
)

// Run results.
const (
	RunSuccess   = "success"
	RunFailure   = "failure"
	RunCancelled = "cancelled"
)

// Options describe the trigger of a run.
type Options struct {
	Event           string
	Ref             string
	Sha             string
	Repository      string
	RepositoryOwner string
	Actor           string
	HeadRef         string
	BaseRef         string
	// Payload becomes github.event.
	Payload map[string]any
	// WorkflowFile names the workflow when it has no name and keys the
	// run_number counter.
	WorkflowFile string
}

// JobSummary is a point-in-time view of one job.
type JobSummary struct {
	Name    string              `json:"name"`
	State   JobState            `json:"state"`
	Result  protocol.TaskResult `json:"result,omitempty"`
	JobIDs  []string            `json:"job_ids,omitempty"`
	Outputs map[string]string   `json:"outputs,omitempty"`
}

type jobState struct {
	factory    *pipeline.JobFactory
	state      JobState
	pending    map[string]struct{}
	dependents []*jobState
	needs      map[string]any
	status     jobStatus

	backlog     []*protocol.JobRequest
	outstanding map[string]struct{}
	maxParallel int
	failFast    bool
	results     []protocol.TaskResult
	outputs     map[string]any
	result      protocol.TaskResult
}

type completionMsg struct {
	completion protocol.Completion
	reply      chan error
}

// Session is one run of a workflow. All job state is owned by the goroutine
// executing Run; other goroutines talk to it through Complete and Cancel.
type Session struct {
	engine    *Engine
	id        string
	planID    string
	scopeID   string
	pipeline  *pipeline.PipelineTemplate
	opts      Options
	runID     int64
	runNumber int64
	logger    *slog.Logger
	trace     expr.TraceWriter

	jobs     []*jobState
	requests map[string]*jobState

	completions chan completionMsg
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	runOnce     sync.Once

	mu        sync.Mutex
	summaries map[string]*JobSummary
	result    string
}

// NewSession validates p, checks that it is triggered by o and prepares a
// session. The needs graph is validated again here so that a pipeline built
// by hand cannot start with a cycle or a missing dependency.
func NewSession(ctx context.Context, e *Engine, p *pipeline.PipelineTemplate, o Options) (*Session, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: no pipeline", ErrInvalidPipeline)
	}
	if len(p.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPipeline, joinErrors(p.Errors))
	}
	if len(p.Jobs) == 0 {
		return nil, fmt.Errorf("%w: the workflow defines no jobs", ErrInvalidPipeline)
	}
	nodes := make([]graph.Node, len(p.Jobs))
	for i, j := range p.Jobs {
		nodes[i] = j
	}
	if res := graph.Validate(nodes, "jobs", nil); !res.OK() {
		msgs := make([]string, 0, len(res.Errors))
		for _, err := range res.Errors {
			msgs = append(msgs, err.Error())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidPipeline, strings.Join(msgs, "; "))
	}
	if o.Event == "" {
		o.Event = "push"
	}
	if !p.Triggers.Match(o.Event, o.Ref) {
		return nil, fmt.Errorf("%w: event %q ref %q", ErrNotTriggered, o.Event, o.Ref)
	}

	repoKey := o.Repository
	if repoKey == "" {
		repoKey = "local"
	}
	runID, err := e.counters.Next(ctx, repoKey)
	if err != nil {
		return nil, fmt.Errorf("allocate run_id: %w", err)
	}
	runNumber, err := e.counters.Next(ctx, repoKey+":/"+o.WorkflowFile)
	if err != nil {
		return nil, fmt.Errorf("allocate run_number: %w", err)
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	logger := e.logger.With(slog.String("run_id", id))
	s := &Session{
		engine:      e,
		id:          id,
		planID:      uuid.NewString(),
		scopeID:     uuid.NewString(),
		pipeline:    p,
		opts:        o,
		runID:       runID,
		runNumber:   runNumber,
		logger:      logger,
		trace:       log.NewTraceWriter(logger),
		requests:    make(map[string]*jobState),
		completions: make(chan completionMsg),
		ctx:         runCtx,
		cancel:      cancel,
		done:        make(chan struct{}),
		summaries:   make(map[string]*JobSummary),
	}

	byName := make(map[string]*jobState, len(p.Jobs))
	for _, f := range p.Jobs {
		j := &jobState{
			factory:     f,
			state:       StatePending,
			pending:     make(map[string]struct{}),
			needs:       make(map[string]any),
			outstanding: make(map[string]struct{}),
			outputs:     make(map[string]any),
		}
		for _, n := range f.DependsOn {
			j.pending[strings.ToLower(n)] = struct{}{}
		}
		s.jobs = append(s.jobs, j)
		byName[strings.ToLower(f.Name)] = j
		s.summaries[f.Name] = &JobSummary{Name: f.Name, State: StatePending}
	}
	for _, j := range s.jobs {
		for n := range j.pending {
			dep := byName[n]
			dep.dependents = append(dep.dependents, j)
		}
	}
	return s, nil
}

// ID is the session's run id, carried by every request as RunID.
func (s *Session) ID() string { return s.id }

// RunNumber is the github.run_number of the session.
func (s *Session) RunNumber() int64 { return s.runNumber }

// Done is closed when the session has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result is the run result once Done is closed, and "" before.
func (s *Session) Result() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Info describes the run the way run.* events do.
func (s *Session) Info() events.RunData { return s.runData(s.Result()) }

// Jobs returns a snapshot of every job in workflow order.
func (s *Session) Jobs() []JobSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobSummary, 0, len(s.jobs))
	for _, j := range s.jobs {
		sum := *s.summaries[j.factory.Name]
		sum.JobIDs = append([]string(nil), sum.JobIDs...)
		sum.Outputs = maps.Clone(sum.Outputs)
		out = append(out, sum)
	}
	return out
}

// Cancel stops enqueuing, drops queued requests and finishes the session.
// Requests already acquired by workers are left to them.
func (s *Session) Cancel() { s.cancel() }

// Complete delivers a completion to the session loop.
func (s *Session) Complete(c protocol.Completion) error {
	msg := completionMsg{completion: c, reply: make(chan error, 1)}
	select {
	case s.completions <- msg:
	case <-s.done:
		return ErrSessionClosed
	}
	select {
	case err := <-msg.reply:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

// Run drives the session until every job is terminal or the session is
// cancelled. It runs at most once.
func (s *Session) Run() {
	s.runOnce.Do(s.run)
	<-s.done
}

func (s *Session) run() {
	defer close(s.done)
	s.begin()

	for _, j := range s.jobs {
		if j.state == StatePending && len(j.pending) == 0 {
			s.evaluate(j)
		}
	}

	for !s.finished() {
		select {
		case <-s.ctx.Done():
			s.abort()
			s.finish(RunCancelled)
			return
		case msg := <-s.completions:
			msg.reply <- s.handleCompletion(msg.completion)
		}
	}
	s.finish(s.runResult())
}

func (s *Session) begin() {
	s.logger.Info("run started", "workflow", s.workflowName(), "event", s.opts.Event, "ref", s.opts.Ref, "jobs", len(s.jobs))
	s.engine.observer.RunStarted()
	if s.engine.runs != nil {
		err := s.engine.runs.CreateRun(context.WithoutCancel(s.ctx), state.Run{
			ID:          s.id,
			Repository:  s.opts.Repository,
			Workflow:    s.workflowName(),
			Event:       s.opts.Event,
			Ref:         s.opts.Ref,
			RunNumber:   s.runNumber,
			Fingerprint: s.pipeline.Fingerprint,
		})
		if err != nil {
			s.logger.Error("failed to record run", "error", err)
		}
	}
	s.engine.events.Publish(events.RunStarted, s.runData(""))
}

func (s *Session) finish(result string) {
	s.mu.Lock()
	s.result = result
	s.mu.Unlock()
	s.cancel()

	s.logger.Info("run completed", "result", result)
	s.engine.observer.RunCompleted(result)
	if s.engine.runs != nil {
		if err := s.engine.runs.FinishRun(context.WithoutCancel(s.ctx), s.id, result); err != nil {
			s.logger.Error("failed to record run completion", "error", err)
		}
	}
	s.engine.events.Publish(events.RunCompleted, s.runData(result))
}

func (s *Session) abort() {
	dropped, err := s.engine.queue.Drop(context.WithoutCancel(s.ctx), s.id)
	if err != nil {
		s.logger.Error("failed to drop queued requests", "error", err)
	}
	s.logger.Info("run cancelled", "dropped", len(dropped), "in_flight", len(s.requests)-len(dropped))
	for _, j := range s.jobs {
		if j.state != StateSkipped && j.state != StateCompleted {
			s.setState(j, StateCancelled)
		}
	}
}

func (s *Session) finished() bool {
	for _, j := range s.jobs {
		if j.state != StateSkipped && j.state != StateCompleted {
			return false
		}
	}
	return true
}

func (s *Session) runResult() string {
	result := RunSuccess
	for _, j := range s.jobs {
		switch {
		case j.result == protocol.ResultCanceled:
			if result == RunSuccess {
				result = RunCancelled
			}
		case j.state == StateCompleted && !j.result.Succeeded() && j.result != protocol.ResultSkipped:
			if !j.factory.ContinueOnError {
				return RunFailure
			}
		}
	}
	return result
}

// evaluate runs the job's if-condition once all needs have completed.
func (s *Session) evaluate(j *jobState) {
	s.setState(j, StateEvaluating)
	data := s.jobContextData(j)

	ok, err := template.EvaluateBoolean(s.evalContext(data, j.status), j.factory.Condition)
	if err != nil {
		s.logger.Error("job condition failed to evaluate", "job", j.factory.Name, "condition", j.factory.Condition, "error", err)
		s.completeJob(j, protocol.ResultFailed)
		return
	}
	s.logger.Debug("job condition evaluated", "job", j.factory.Name, "condition", j.factory.Condition, "status", j.status.String(), "result", ok)
	if !ok {
		s.skip(j)
		return
	}
	s.expand(j, data)
}

func (s *Session) skip(j *jobState) {
	j.result = protocol.ResultSkipped
	s.setState(j, StateSkipped)
	s.engine.observer.JobSkipped()
	s.engine.events.Publish(events.JobSkipped, events.JobData{RunID: s.id, Job: j.factory.Name, Result: protocol.NeedsSkipped})
	s.fanOut(j)
}

// expand turns the job into one request per strategy cell and starts
// enqueuing them.
func (s *Session) expand(j *jobState, data map[string]any) {
	s.setState(j, StateExpanding)
	requests, strategy, err := s.buildRequests(j, data)
	if err != nil {
		s.logger.Error("job expansion failed", "job", j.factory.Name, "error", err)
		s.completeJob(j, protocol.ResultFailed)
		return
	}
	j.backlog = requests
	j.failFast = strategy.FailFast
	j.maxParallel = strategy.MaxParallel
	if j.maxParallel <= 0 {
		j.maxParallel = len(requests)
	}
	s.setState(j, StateQueued)
	s.pump(j)
}

// pump enqueues backlog requests up to max-parallel and finishes the job
// once nothing is left.
func (s *Session) pump(j *jobState) {
	for len(j.backlog) > 0 && len(j.outstanding) < j.maxParallel {
		if s.ctx.Err() != nil {
			return
		}
		req := j.backlog[0]
		j.backlog = j.backlog[1:]
		if err := s.engine.queue.Enqueue(s.ctx, req); err != nil {
			s.logger.Error("failed to enqueue job request", "job", req.JobName, "job_id", req.JobID, "error", err)
			j.results = append(j.results, protocol.ResultFailed)
			continue
		}
		j.outstanding[req.JobID] = struct{}{}
		s.requests[req.JobID] = j
		s.addJobID(j, req.JobID)
		s.logger.Info("job queued", "job", req.JobName, "job_id", req.JobID, "labels", req.Labels)
		s.engine.observer.JobQueued()
		s.engine.events.Publish(events.JobQueued, events.JobData{
			RunID:       s.id,
			JobID:       req.JobID,
			Job:         j.factory.Name,
			Name:        req.JobName,
			DisplayName: req.JobDisplayName,
			Labels:      req.Labels,
		})
	}
	if len(j.outstanding) == 0 && len(j.backlog) == 0 {
		s.finishJob(j)
	}
}

func (s *Session) handleCompletion(c protocol.Completion) error {
	j, ok := s.requests[c.JobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, c.JobID)
	}
	delete(s.requests, c.JobID)
	delete(j.outstanding, c.JobID)

	j.results = append(j.results, c.Result)
	for k, v := range c.Outputs {
		j.outputs[k] = v
	}
	s.logger.Info("job completed", "job", j.factory.Name, "job_id", c.JobID, "result", c.Result)
	s.engine.observer.JobCompleted(c.Result.NeedsResult())
	s.engine.events.Publish(events.JobCompleted, events.JobData{
		RunID:   s.id,
		JobID:   c.JobID,
		Job:     j.factory.Name,
		Result:  c.Result.NeedsResult(),
		Outputs: c.Outputs,
	})

	if !c.Result.Succeeded() && j.failFast && len(j.backlog) > 0 {
		s.logger.Info("fail-fast cancelled remaining cells", "job", j.factory.Name, "cells", len(j.backlog))
		for range j.backlog {
			j.results = append(j.results, protocol.ResultCanceled)
		}
		j.backlog = nil
	}
	s.pump(j)
	return nil
}

// completeJob ends a job that produced no requests.
func (s *Session) completeJob(j *jobState, result protocol.TaskResult) {
	j.results = append(j.results, result)
	s.engine.observer.JobCompleted(result.NeedsResult())
	s.engine.events.Publish(events.JobCompleted, events.JobData{RunID: s.id, Job: j.factory.Name, Result: result.NeedsResult()})
	s.finishJob(j)
}

func (s *Session) finishJob(j *jobState) {
	j.result = aggregate(j.results)
	s.setState(j, StateCompleted)
	s.fanOut(j)
}

// fanOut records j's result in the needs context of every dependent and
// evaluates those whose needs are now all complete.
func (s *Session) fanOut(j *jobState) {
	name := j.factory.Name
	for _, d := range j.dependents {
		if d.state != StatePending {
			continue
		}
		d.needs[name] = map[string]any{
			"outputs": maps.Clone(j.outputs),
			"result":  j.result.NeedsResult(),
		}
		d.status = max(d.status, needStatus(j))
		delete(d.pending, strings.ToLower(name))
		if len(d.pending) == 0 {
			s.evaluate(d)
		}
	}
}

// jobContextData is the github and needs context of j.
func (s *Session) jobContextData(j *jobState) map[string]any {
	return map[string]any{
		"github": s.githubContext(j.factory.Name),
		"needs":  maps.Clone(j.needs),
	}
}

func (s *Session) setState(j *jobState, st JobState) {
	j.state = st
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := s.summaries[j.factory.Name]
	sum.State = st
	sum.Result = j.result
	if st == StateCompleted && len(j.outputs) > 0 {
		sum.Outputs = make(map[string]string, len(j.outputs))
		for k, v := range j.outputs {
			sum.Outputs[k] = fmt.Sprint(v)
		}
	}
}

func (s *Session) addJobID(j *jobState, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := s.summaries[j.factory.Name]
	sum.JobIDs = append(sum.JobIDs, id)
}

func (s *Session) workflowName() string {
	if s.pipeline.Name != "" {
		return s.pipeline.Name
	}
	return s.opts.WorkflowFile
}

func (s *Session) runData(result string) events.RunData {
	return events.RunData{
		RunID:      s.id,
		Workflow:   s.workflowName(),
		Repository: s.opts.Repository,
		Event:      s.opts.Event,
		Ref:        s.opts.Ref,
		RunNumber:  s.runNumber,
		Result:     result,
	}
}

// aggregate folds the results of a job's cells into one.
func aggregate(results []protocol.TaskResult) protocol.TaskResult {
	if len(results) == 0 {
		return protocol.ResultSucceeded
	}
	var canceled, issues, ran bool
	for _, r := range results {
		switch r {
		case protocol.ResultFailed, protocol.ResultAbandoned:
			return protocol.ResultFailed
		case protocol.ResultCanceled:
			canceled = true
		case protocol.ResultSucceededWithIssues:
			issues = true
		}
		if r != protocol.ResultSkipped {
			ran = true
		}
	}
	switch {
	case canceled:
		return protocol.ResultCanceled
	case !ran:
		return protocol.ResultSkipped
	case issues:
		return protocol.ResultSucceededWithIssues
	}
	return protocol.ResultSucceeded
}

func joinErrors(errs []template.ValidationError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}
