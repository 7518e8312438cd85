package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/runway/internal/api"
	"github.com/mattjoyce/runway/internal/auth"
	"github.com/mattjoyce/runway/internal/config"
	"github.com/mattjoyce/runway/internal/dispatch"
	"github.com/mattjoyce/runway/internal/events"
	"github.com/mattjoyce/runway/internal/lock"
	"github.com/mattjoyce/runway/internal/log"
	"github.com/mattjoyce/runway/internal/metrics"
	"github.com/mattjoyce/runway/internal/orchestrator"
	"github.com/mattjoyce/runway/internal/queue"
	"github.com/mattjoyce/runway/internal/scheduler"
	"github.com/mattjoyce/runway/internal/state"
	"github.com/mattjoyce/runway/internal/storage"
	"github.com/mattjoyce/runway/internal/webhook"
	"github.com/mattjoyce/runway/internal/workspace"
)

func serveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the runway service in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(true)
			if err != nil {
				return err
			}
			log.SetupWithWriter(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stdout)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, g.configPath)
		},
	}
}

// serve runs every enabled component until ctx is done or one of them
// fails.
func serve(ctx context.Context, cfg *config.Config, configPath string) error {
	logger := log.WithComponent("main")
	logger.Info("runway starting", "version", version, "config", configPath)

	pidLockPath := lock.PathFor(cfg.State.Path)
	if err := os.MkdirAll(filepath.Dir(pidLockPath), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return err
	}
	defer func() { _ = pidLock.Release() }()
	logger.Info("acquired PID lock", "path", pidLockPath)

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return err
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	q := queue.NewSQLite(db)
	st := state.NewStore(db)
	hub := events.NewHub(256)
	m := metrics.New(q.Depth)

	engine := orchestrator.NewEngine(engineConfig(cfg), q,
		orchestrator.WithEvents(hub),
		orchestrator.WithCounters(st),
		orchestrator.WithRunRecorder(st),
		orchestrator.WithObserver(m),
		orchestrator.WithLogger(log.WithComponent("orchestrator")),
	)

	var workspaces workspace.Manager
	if cfg.Dispatch.Enabled && cfg.Dispatch.Executor != "" {
		ws, err := workspace.NewFSManager(cfg.Dispatch.WorkspaceDir)
		if err != nil {
			logger.Error("failed to initialize workspace manager", "base_dir", cfg.Dispatch.WorkspaceDir, "error", err)
			return err
		}
		workspaces = ws
	}

	sched := scheduler.New(scheduler.Config{
		Interval:           cfg.State.CleanupInterval,
		WorkspaceRetention: cfg.Dispatch.Retention,
		HistoryRetention:   cfg.State.HistoryRetention,
	}, st, q, workspaces, hub, log.WithComponent("scheduler"))
	if err := sched.Start(ctx); err != nil {
		logger.Error("scheduler failed to start", "error", err)
		return err
	}
	defer sched.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 3)

	if cfg.Dispatch.Enabled {
		var worker dispatch.Worker = &dispatch.LocalWorker{}
		if cfg.Dispatch.Executor != "" {
			worker = &dispatch.ExecWorker{
				Entrypoint: cfg.Dispatch.Executor,
				Args:       cfg.Dispatch.ExecutorArgs,
				Workspaces: workspaces,
			}
		}
		disp := dispatch.New(q, engine, worker, dispatch.Config{
			Labels:       cfg.Dispatch.Labels,
			PollInterval: cfg.Dispatch.PollInterval,
		})
		go func() {
			if err := disp.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("dispatcher: %w", err)
			}
		}()
		logger.Info("dispatcher enabled", "labels", cfg.Dispatch.Labels, "executor", cfg.Dispatch.Executor)
	}

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{
				Token:  t.Token,
				Scopes: t.Scopes,
			})
		}
		apiConfig := api.Config{
			Listen:       cfg.API.Listen,
			APIKey:       cfg.API.Auth.APIKey,
			Tokens:       tokens,
			WorkflowRoot: cfg.API.WorkflowRoot,
			Limits:       cfg.Limits.Template(),
		}
		apiServer := api.New(apiConfig, engine, q, log.WithComponent("api"),
			api.WithRunStore(st),
			api.WithEvents(hub),
			api.WithMetrics(m.Handler()),
		)
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if cfg.Webhooks != nil && len(cfg.Webhooks.Endpoints) > 0 {
		webhookConfig, err := webhook.FromGlobalConfig(cfg.Webhooks)
		if err != nil {
			logger.Error("failed to configure webhooks", "error", err)
			return err
		}

		webhookServer := webhook.New(webhookConfig, engine, log.WithComponent("webhook"))
		go func() {
			if err := webhookServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook server enabled", "listen", webhookConfig.Listen, "endpoints", len(webhookConfig.Endpoints))
	}

	logger.Info("runway running (press Ctrl+C to stop)")

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return err
	}

	cancelSessions(engine, 10*time.Second)
	logger.Info("runway stopped")
	return nil
}

// cancelSessions stops live runs so they are recorded as cancelled. Runs
// still open after wait are closed by crash recovery on the next start.
func cancelSessions(engine *orchestrator.Engine, wait time.Duration) {
	sessions := engine.Sessions()
	for _, s := range sessions {
		s.Cancel()
	}
	deadline := time.After(wait)
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-deadline:
			return
		}
	}
}
