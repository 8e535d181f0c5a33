package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/upcycle-sh/upcycle/internal/command"
	"github.com/upcycle-sh/upcycle/internal/runlog"
	"github.com/upcycle-sh/upcycle/internal/service"
)

// ServiceState is one service's live health in the status report.
type ServiceState struct {
	Name    string `json:"name"`
	Unit    string `json:"unit"`
	Healthy bool   `json:"healthy"`
	Reason  string `json:"reason,omitempty"`
}

// StatusResult is the full status report.
type StatusResult struct {
	LastCycle *runlog.CycleRecord `json:"last_cycle,omitempty"`
	Services  []ServiceState      `json:"services"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last cycle and live service health",
		Long: `Show the most recent cycle record together with the current health of
each configured service, probed live through the service manager.

Example:
  upcycle status -c ./upcycle.yaml
  upcycle status -c ./upcycle.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
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

	result := StatusResult{}
	last, err := store.LastCycle(ctx)
	switch {
	case errors.Is(err, runlog.ErrNoCycles):
		// fresh install, nothing recorded yet
	case err != nil:
		return WrapExitError(ExitFailure, "failed to read run log", err)
	default:
		result.LastCycle = &last
	}

	manager := service.NewSystemdManager(command.ExecRunner{})
	for _, d := range cfg.ToDescriptors() {
		healthy, reason := manager.Healthy(ctx, d)
		result.Services = append(result.Services, ServiceState{
			Name:    d.Name,
			Unit:    d.Unit,
			Healthy: healthy,
			Reason:  reason,
		})
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return out.Success(result)
	}
	return out.Success(renderStatusText(result))
}

func renderStatusText(result StatusResult) string {
	var b strings.Builder

	if result.LastCycle == nil {
		b.WriteString("No cycles recorded yet.\n")
	} else {
		b.WriteString("Last cycle:\n")
		for _, line := range strings.Split(renderCycleText(*result.LastCycle), "\n") {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}

	b.WriteString("\nServices:\n")
	titler := cases.Title(language.English)
	for _, svc := range result.Services {
		display := titler.String(strings.ReplaceAll(svc.Name, "-", " "))
		state := "healthy"
		if !svc.Healthy {
			state = "unhealthy"
			if svc.Reason != "" {
				state = fmt.Sprintf("unhealthy (%s)", svc.Reason)
			}
		}
		fmt.Fprintf(&b, "  %-24s %s\n", display, state)
	}
	return strings.TrimRight(b.String(), "\n")
}
