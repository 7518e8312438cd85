// Package orchestrator runs workflow sessions: it evaluates job conditions
// as their needs complete, expands strategies into job requests, places the
// requests on the dispatch queue and feeds completions back to dependents.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/runway/internal/events"
	"github.com/mattjoyce/runway/internal/log"
	"github.com/mattjoyce/runway/internal/pipeline"
	"github.com/mattjoyce/runway/internal/protocol"
	"github.com/mattjoyce/runway/internal/queue"
	"github.com/mattjoyce/runway/internal/state"
	"github.com/mattjoyce/runway/internal/template"
)

var (
	// ErrSessionClosed is returned for completions that arrive after the
	// session finished or was cancelled.
	ErrSessionClosed = errors.New("session closed")
	// ErrUnknownJob is returned for a completion whose job id the session
	// never dispatched.
	ErrUnknownJob = errors.New("unknown job")
	// ErrNotTriggered is returned when the workflow does not select the
	// run's event and ref.
	ErrNotTriggered = errors.New("workflow not triggered")
	// ErrInvalidPipeline is returned when the pipeline carries conversion
	// errors or fails the pre-flight graph check.
	ErrInvalidPipeline = errors.New("invalid pipeline")
)

// Config holds the values every job request is stamped with.
type Config struct {
	ServerURL   string
	APIURL      string
	GitHubToken string
	Secrets     map[string]string
	Limits      template.Limits
	// Environment names the environment reference sent to workers.
	Environment string
}

// Observer is told about lifecycle transitions. *metrics.Metrics
// implements it.
type Observer interface {
	RunStarted()
	RunCompleted(result string)
	JobQueued()
	JobSkipped()
	JobCompleted(result string)
}

// RunRecorder persists run summaries. *state.Store implements it.
type RunRecorder interface {
	CreateRun(ctx context.Context, r state.Run) error
	FinishRun(ctx context.Context, id, result string) error
}

// Engine hosts sessions and routes completions to them. It also owns the
// run_id and run_number counters.
type Engine struct {
	cfg      Config
	queue    queue.Queue
	events   events.Publisher
	counters state.Counters
	runs     RunRecorder
	observer Observer
	logger   *slog.Logger

	mu           sync.Mutex
	sessions     map[string]*Session
	finished     []string
	keepFinished int
}

// DefaultFinishedSessions is how many finished sessions an engine keeps
// in memory unless WithFinishedSessions says otherwise.
const DefaultFinishedSessions = 100

// Option configures an Engine.
type Option func(*Engine)

// WithEvents publishes lifecycle events to p.
func WithEvents(p events.Publisher) Option { return func(e *Engine) { e.events = p } }

// WithCounters replaces the in-memory run_id and run_number counters.
func WithCounters(c state.Counters) Option { return func(e *Engine) { e.counters = c } }

// WithRunRecorder persists a summary of every run to r.
func WithRunRecorder(r RunRecorder) Option { return func(e *Engine) { e.runs = r } }

// WithObserver reports lifecycle transitions to o, usually metrics.
func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// WithLogger sets the engine logger. Sessions log through it with their
// run id attached.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithFinishedSessions bounds how many finished sessions stay reachable
// through Session and Sessions. Older ones are dropped as new runs finish;
// a run store still has their summaries.
func WithFinishedSessions(n int) Option { return func(e *Engine) { e.keepFinished = n } }

// NewEngine returns an engine that places job requests on q. Without
// options it publishes nothing and counts runs in memory.
func NewEngine(cfg Config, q queue.Queue, opts ...Option) *Engine {
	e := &Engine{
		cfg:          cfg,
		queue:        q,
		events:       nopPublisher{},
		counters:     state.NewMemoryCounters(),
		observer:     nopObserver{},
		sessions:     make(map[string]*Session),
		keepFinished: DefaultFinishedSessions,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.WithComponent("orchestrator")
	}
	return e
}

// Start creates a session for p and runs it in the background. The session
// outlives ctx; use Cancel to stop it.
func (e *Engine) Start(ctx context.Context, p *pipeline.PipelineTemplate, o Options) (*Session, error) {
	s, err := NewSession(ctx, e, p, o)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()

	go func() {
		s.Run()
		e.logger.Debug("session finished", "run_id", s.id, "result", s.Result())
		e.retire(s.id)
	}()
	return s, nil
}

// retire marks a session finished and drops the oldest finished sessions
// beyond keepFinished.
func (e *Engine) retire(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = append(e.finished, id)
	for len(e.finished) > max(e.keepFinished, 0) {
		delete(e.sessions, e.finished[0])
		e.finished = e.finished[1:]
	}
}

// StartFile loads the workflow at path and starts it. The path names the
// workflow in github.workflow and keys run_number unless o sets WorkflowFile.
func (e *Engine) StartFile(ctx context.Context, path string, o Options) (*Session, error) {
	tctx := template.NewContext(e.cfg.Limits, log.NewTraceWriter(e.logger))
	p, err := pipeline.LoadFile(tctx, path)
	if err != nil {
		return nil, err
	}
	if o.WorkflowFile == "" {
		o.WorkflowFile = path
	}
	return e.Start(ctx, p, o)
}

// Sessions returns every session started by this engine.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// Session returns a session started by this engine.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Cancel stops the session with the given id.
func (e *Engine) Cancel(id string) error {
	s, ok := e.Session(id)
	if !ok {
		return fmt.Errorf("cancel %s: %w", id, ErrSessionClosed)
	}
	s.Cancel()
	return nil
}

// Complete records c on the queue and hands it to the owning session.
func (e *Engine) Complete(ctx context.Context, c protocol.Completion) error {
	rec, err := e.queue.Complete(ctx, c)
	if err != nil {
		return err
	}
	s, ok := e.Session(rec.RunID)
	if !ok {
		return fmt.Errorf("complete %s: %w", c.JobID, ErrUnknownJob)
	}
	return s.Complete(c)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

type nopObserver struct{}

func (nopObserver) RunStarted()         {}
func (nopObserver) RunCompleted(string) {}
func (nopObserver) JobQueued()          {}
func (nopObserver) JobSkipped()         {}
func (nopObserver) JobCompleted(string) {}
