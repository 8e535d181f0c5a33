package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/upcycle-sh/upcycle/internal/clock"
	"github.com/upcycle-sh/upcycle/internal/command"
	"github.com/upcycle-sh/upcycle/internal/config"
	"github.com/upcycle-sh/upcycle/internal/depsync"
	"github.com/upcycle-sh/upcycle/internal/repo"
	"github.com/upcycle-sh/upcycle/internal/runlog"
	"github.com/upcycle-sh/upcycle/internal/scheduler"
	"github.com/upcycle-sh/upcycle/internal/service"
)

// setupLogging configures the process-wide slog default.
func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// loadConfig loads and validates the config file, mapping failures to
// the configuration exit code.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitConfigError, "invalid configuration", err)
	}
	return cfg, nil
}

// components is the fully wired daemon, shared by run and once.
type components struct {
	cfg   *config.Config
	store *runlog.Store
	lines *runlog.LineWriter
	set   *service.Set
	sched *scheduler.Scheduler
}

// buildComponents wires the update pipeline from a validated config.
func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	store, err := runlog.Open(cfg.Log.DB)
	if err != nil {
		return nil, WrapExitError(ExitConfigError, "failed to open run log database", err)
	}
	lines, err := runlog.OpenLineWriter(cfg.Log.Path)
	if err != nil {
		store.Close()
		return nil, WrapExitError(ExitConfigError, "failed to open run log file", err)
	}

	maxSeq, err := store.MaxSeq(ctx)
	if err != nil {
		lines.Close()
		store.Close()
		return nil, WrapExitError(ExitFailure, "failed to read run log sequence", err)
	}

	runner := command.ExecRunner{}
	watcher := repo.NewWatcher(cfg.Repo.Path, cfg.Repo.Remote, cfg.Repo.Branch, runner)
	syncer := depsync.New(cfg.Deps.Manifests, cfg.Deps.SyncCommand, cfg.Deps.StateFile, runner)
	set := service.NewSet(cfg.ToDescriptors(), service.NewSystemdManager(runner), clock.Real())

	sched := scheduler.New(scheduler.Params{
		Watcher:      watcher,
		Syncer:       syncer,
		Services:     set,
		Recorder:     runlog.NewRecorder(store, lines),
		Seq:          scheduler.NewSeqAt(maxSeq),
		PollInterval: cfg.PollInterval.Std(),
		StageTimeout: cfg.StageTimeout.Std(),
	})

	return &components{
		cfg:   cfg,
		store: store,
		lines: lines,
		set:   set,
		sched: sched,
	}, nil
}

// Close releases the run log sinks.
func (c *components) Close() {
	if err := c.lines.Close(); err != nil {
		slog.Error("error closing run log file", "error", err)
	}
	if err := c.store.Close(); err != nil {
		slog.Error("error closing run log database", "error", err)
	}
}
