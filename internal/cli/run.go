package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the update daemon",
		Long: `Start the update control loop.

The daemon polls the configured repository on a fixed interval. When a
new revision arrives it synchronizes dependencies and restarts the
configured services in startup order, verifying health after each
restart. Every pass appends one record to the run log.

Example:
  upcycle run --config /etc/upcycle/upcycle.yaml
  upcycle run -c ./upcycle.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(rootOpts, cmd)
		},
	}
	return cmd
}

func runDaemon(opts *RootOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	comps, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("daemon starting",
		"repo", cfg.Repo.Path,
		"branch", cfg.Repo.Branch,
		"services", len(cfg.Services),
		"poll_interval", cfg.PollInterval.Std(),
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Daemon started. Watching for new revisions...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := comps.sched.Run(ctx); err != nil &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "scheduler error", err)
	}

	stats := comps.sched.Stats()
	slog.Info("daemon stopped gracefully",
		"cycles_run", stats.CyclesRun,
		"ticks_dropped", stats.TicksDropped,
	)
	return nil
}
