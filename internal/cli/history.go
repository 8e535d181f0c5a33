package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/upcycle-sh/upcycle/internal/runlog"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit   int
	Outcome string
	Action  string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent cycles from the run log",
		Long: `List recent cycle records from the run log, newest first.

Examples:
  upcycle history -c ./upcycle.yaml
  upcycle history -c ./upcycle.yaml --limit 50
  upcycle history -c ./upcycle.yaml --outcome hard-failure
  upcycle history -c ./upcycle.yaml --action updated --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", runlog.DefaultLimit, "maximum number of cycles to list")
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "filter by outcome (success|partial-failure|hard-failure)")
	cmd.Flags().StringVar(&opts.Action, "action", "", "filter by action (no-op|updated)")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	switch opts.Outcome {
	case "", string(runlog.OutcomeSuccess), string(runlog.OutcomePartialFailure), string(runlog.OutcomeHardFailure):
	default:
		return NewExitError(ExitConfigError, fmt.Sprintf("unknown outcome %q", opts.Outcome))
	}
	switch opts.Action {
	case "", string(runlog.ActionNoOp), string(runlog.ActionUpdated):
	default:
		return NewExitError(ExitConfigError, fmt.Sprintf("unknown action %q", opts.Action))
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := runlog.Open(cfg.Log.DB)
	if err != nil {
		return WrapExitError(ExitConfigError, "failed to open run log database", err)
	}
	defer store.Close()

	records, err := store.Cycles(ctx, runlog.Filter{
		Limit:   opts.Limit,
		Outcome: runlog.Outcome(opts.Outcome),
		Action:  runlog.Action(opts.Action),
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to query run log", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return out.Success(records)
	}
	if len(records) == 0 {
		return out.Success("No cycles match.")
	}
	return out.Success(renderHistoryText(records))
}

func renderHistoryText(records []runlog.CycleRecord) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIME\tACTION\tOUTCOME\tREVISION\tDETAIL")
	for _, rec := range records {
		revision := ""
		if rec.Action == runlog.ActionUpdated {
			revision = fmt.Sprintf("%s -> %s", rec.OldRevision.Short(), rec.NewRevision.Short())
		} else if rec.NewRevision != "" {
			revision = rec.NewRevision.Short()
		}
		detail := rec.Reason
		if detail == "" && len(rec.Services) > 0 {
			detail = summarizeServices(rec.Services)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			rec.Seq,
			rec.Timestamp.Format("2006-01-02 15:04:05"),
			rec.Action,
			rec.Outcome,
			revision,
			detail,
		)
	}
	w.Flush()
	return strings.TrimRight(b.String(), "\n")
}

func summarizeServices(services []runlog.ServiceOutcome) string {
	ok, failed, skipped := 0, 0, 0
	for _, svc := range services {
		switch svc.Status {
		case runlog.StatusOK:
			ok++
		case runlog.StatusFailed:
			failed++
		case runlog.StatusSkipped:
			skipped++
		}
	}
	parts := []string{fmt.Sprintf("%d ok", ok)}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}
	if skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", skipped))
	}
	return strings.Join(parts, ", ")
}
