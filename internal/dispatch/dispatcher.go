package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/runway/internal/log"
	"github.com/mattjoyce/runway/internal/protocol"
)

// DefaultPollInterval is how often an idle dispatcher asks for work.
const DefaultPollInterval = time.Second

// Config configures a Dispatcher.
type Config struct {
	// Labels advertised when acquiring; a request matches when its labels
	// are a subset of these.
	Labels       []string
	PollInterval time.Duration
}

// Dispatcher acquires requests and executes them on a Worker.
type Dispatcher struct {
	source    Source
	completer Completer
	worker    Worker
	labels    []string
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a new Dispatcher.
func New(src Source, c Completer, w Worker, cfg Config) *Dispatcher {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Dispatcher{
		source:    src,
		completer: c,
		worker:    w,
		labels:    append([]string(nil), cfg.Labels...),
		interval:  interval,
		logger:    log.WithComponent("dispatch"),
	}
}

// Start runs the dispatch loop until ctx is cancelled. Each tick drains
// every matching request before waiting again.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatch loop started", "labels", d.labels, "interval", d.interval)
	defer d.logger.Info("dispatch loop stopped")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Drain(ctx); err != nil {
				// Keep polling; one bad request must not stop the host.
				d.logger.Error("failed to process job", "error", err)
			}
		}
	}
}

// Drain processes requests until none match or ctx is done.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for ctx.Err() == nil {
		ok, err := d.ProcessNext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	return ctx.Err()
}

// ProcessNext acquires one request and executes it. It reports false when
// nothing matched.
func (d *Dispatcher) ProcessNext(ctx context.Context) (bool, error) {
	req, err := d.source.Acquire(ctx, d.labels)
	if err != nil {
		return false, fmt.Errorf("acquire: %w", err)
	}
	if req == nil {
		return false, nil
	}
	return true, d.execute(ctx, req)
}

func (d *Dispatcher) execute(ctx context.Context, req *protocol.JobRequest) error {
	jobLogger := log.WithJob(req.JobID).With("run_id", req.RunID, "job", req.JobName)
	jobLogger.Info("executing job", "display_name", req.JobDisplayName, "steps", len(req.Steps))

	started := time.Now()
	c, err := d.worker.Run(ctx, req)
	if err != nil {
		jobLogger.Error("job execution failed", "error", err)
		c = protocol.Completion{Result: protocol.ResultFailed}
	}
	c.JobID = req.JobID
	if c.Result == "" {
		c.Result = protocol.ResultFailed
	}
	if err := c.Validate(); err != nil {
		jobLogger.Error("worker returned an invalid completion", "error", err)
		c = protocol.Completion{JobID: req.JobID, Result: protocol.ResultFailed}
	}

	jobLogger.Info("job finished", "result", c.Result, "outputs", len(c.Outputs), "duration", time.Since(started))
	if err := d.completer.Complete(context.WithoutCancel(ctx), c); err != nil {
		return fmt.Errorf("complete %s: %w", req.JobID, err)
	}
	return nil
}
