package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/upcycle-sh/upcycle/internal/runlog"
)

// NewOnceCommand creates the once command.
func NewOnceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single update cycle and exit",
		Long: `Run one full update cycle immediately and exit.

The exit code reflects the cycle outcome: 0 when the pass succeeded
(including the no-change case), 1 when any stage failed. Useful from
cron or CI where the daemon's poll loop is not wanted.

Example:
  upcycle once -c ./upcycle.yaml
  upcycle once -c ./upcycle.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(rootOpts, cmd)
		},
	}
	return cmd
}

func runOnce(opts *RootOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	comps, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	rec := comps.sched.RunCycle(ctx)

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		if err := out.Success(rec); err != nil {
			return err
		}
	} else {
		if err := out.Success(renderCycleText(rec)); err != nil {
			return err
		}
	}

	if rec.Outcome != runlog.OutcomeSuccess {
		return NewExitError(ExitFailure, fmt.Sprintf("cycle ended in %s", rec.Outcome))
	}
	return nil
}

// renderCycleText formats one cycle record for human eyes.
func renderCycleText(rec runlog.CycleRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cycle %s (seq %d)\n", rec.ID, rec.Seq)
	fmt.Fprintf(&b, "  time:    %s\n", rec.Timestamp.Format("2006-01-02 15:04:05 MST"))
	if rec.OldRevision != "" || rec.NewRevision != "" {
		fmt.Fprintf(&b, "  revision: %s -> %s\n", rec.OldRevision.Short(), rec.NewRevision.Short())
	}
	fmt.Fprintf(&b, "  action:  %s\n", rec.Action)
	fmt.Fprintf(&b, "  outcome: %s", rec.Outcome)
	if rec.FailureStage != "" {
		fmt.Fprintf(&b, " (stage %s)", rec.FailureStage)
	}
	if rec.Reason != "" {
		fmt.Fprintf(&b, "\n  reason:  %s", rec.Reason)
	}
	for _, svc := range rec.Services {
		fmt.Fprintf(&b, "\n  service %s: %s", svc.Service, svc.Status)
		if svc.Attempts > 0 {
			fmt.Fprintf(&b, " (attempts %d)", svc.Attempts)
		}
		if svc.Reason != "" {
			fmt.Fprintf(&b, " %s", svc.Reason)
		}
	}
	return b.String()
}
