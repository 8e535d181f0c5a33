package service

import (
	"context"
	"fmt"

	"github.com/upcycle-sh/upcycle/internal/command"
)

// Manager is the seam to the OS service manager. Production code uses
// SystemdManager; tests script a fake.
type Manager interface {
	// Restart issues the restart command for the service. An error means
	// the command itself failed; it says nothing about health.
	Restart(ctx context.Context, d Descriptor) error

	// Healthy probes the service once. The reason string explains an
	// unhealthy result and is empty when healthy.
	Healthy(ctx context.Context, d Descriptor) (bool, string)
}

// SystemdManager drives systemctl through the command runner.
type SystemdManager struct {
	runner command.Runner
}

// NewSystemdManager returns a Manager backed by systemctl.
func NewSystemdManager(runner command.Runner) *SystemdManager {
	return &SystemdManager{runner: runner}
}

// Restart runs "systemctl restart <unit>".
func (m *SystemdManager) Restart(ctx context.Context, d Descriptor) error {
	if _, err := m.runner.Run(ctx, "systemctl", "restart", d.Unit); err != nil {
		return fmt.Errorf("restart %s: %w", d.Unit, err)
	}
	return nil
}

// Healthy probes per the descriptor's health contract: the configured
// health command when one is set, otherwise "systemctl is-active".
func (m *SystemdManager) Healthy(ctx context.Context, d Descriptor) (bool, string) {
	if d.Health.Mode == HealthCommand && len(d.Health.Command) > 0 {
		argv := d.Health.Command
		if _, err := m.runner.Run(ctx, argv[0], argv[1:]...); err != nil {
			return false, fmt.Sprintf("health command: %v", err)
		}
		return true, ""
	}

	out, err := m.runner.Run(ctx, "systemctl", "is-active", d.Unit)
	if err != nil {
		return false, fmt.Sprintf("is-active: %v", err)
	}
	if out != "active" {
		return false, fmt.Sprintf("unit is %s", out)
	}
	return true, ""
}
