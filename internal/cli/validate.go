package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ValidationSummary is the JSON payload for a successful validation.
type ValidationSummary struct {
	Config   string `json:"config"`
	Services int    `json:"services"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validate the configuration file without starting anything.

Exit code 0 means the config is usable; 2 means it is not, with the
offending fields named.

Example:
  upcycle validate -c ./upcycle.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return out.Success(ValidationSummary{
			Config:   opts.ConfigPath,
			Services: len(cfg.Services),
		})
	}
	return out.Success(fmt.Sprintf("%s: configuration OK (%d services)", opts.ConfigPath, len(cfg.Services)))
}
