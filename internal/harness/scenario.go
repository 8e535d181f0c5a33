package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/upcycle-sh/upcycle/internal/runlog"
	"github.com/upcycle-sh/upcycle/internal/service"
)

// Scenario defines one conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Services lists the managed services and their scripted behavior.
	Services []ServiceScript `yaml:"services"`

	// Cycles scripts the outside world for each scheduler pass, in order.
	Cycles []CycleScript `yaml:"cycles"`

	// Expect optionally describes the expected record for every cycle.
	// When present it must have exactly one entry per cycle.
	Expect []ExpectedRecord `yaml:"expect,omitempty"`
}

// ServiceScript is one service's configuration and scripted health.
type ServiceScript struct {
	Name        string `yaml:"name"`
	Order       int    `yaml:"order"`
	Criticality string `yaml:"criticality"`

	// Retries is the maximum number of health polls per restart.
	// Defaults to 3.
	Retries int `yaml:"retries,omitempty"`

	// RestartError, when set, makes every restart of this service fail
	// with this message.
	RestartError string `yaml:"restart_error,omitempty"`

	// HealthyAfter is the number of failing health polls before the
	// service reports healthy. 0 means healthy on the first poll; a
	// negative value means never healthy.
	HealthyAfter int `yaml:"healthy_after,omitempty"`

	// UnhealthyReason is reported while the service is unhealthy.
	UnhealthyReason string `yaml:"unhealthy_reason,omitempty"`
}

// CycleScript scripts one scheduler pass. Either FetchError is set, or
// Old and New carry the revisions the fetch reports.
type CycleScript struct {
	Old        string `yaml:"old,omitempty"`
	New        string `yaml:"new,omitempty"`
	FetchError string `yaml:"fetch_error,omitempty"`

	// SyncError, when set, makes the dependency sync of this cycle fail.
	// Only meaningful when Old != New.
	SyncError string `yaml:"sync_error,omitempty"`
}

// ExpectedRecord describes the cycle record one pass must produce.
type ExpectedRecord struct {
	Action  string `yaml:"action"`
	Outcome string `yaml:"outcome"`
	Stage   string `yaml:"stage,omitempty"`

	// Services maps service name to expected status (ok|failed|skipped).
	// Subset match: only named services are checked.
	Services map[string]string `yaml:"services,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected, catching typos like "expects:" for "expect:".
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Services) == 0 {
		return fmt.Errorf("services list is required and must be non-empty")
	}
	if len(s.Cycles) == 0 {
		return fmt.Errorf("cycles list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Services))
	for i, svc := range s.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d]: name is required", i)
		}
		if seen[svc.Name] {
			return fmt.Errorf("services[%d]: duplicate name %q", i, svc.Name)
		}
		seen[svc.Name] = true
		switch service.Criticality(svc.Criticality) {
		case service.Required, service.Optional:
		default:
			return fmt.Errorf("services[%d]: unknown criticality %q", i, svc.Criticality)
		}
	}

	for i, cycle := range s.Cycles {
		if cycle.FetchError != "" {
			if cycle.Old != "" || cycle.New != "" {
				return fmt.Errorf("cycles[%d]: fetch_error excludes old/new", i)
			}
			continue
		}
		if cycle.Old == "" || cycle.New == "" {
			return fmt.Errorf("cycles[%d]: old and new are required without fetch_error", i)
		}
		if cycle.SyncError != "" && cycle.Old == cycle.New {
			return fmt.Errorf("cycles[%d]: sync_error is unreachable when old == new", i)
		}
	}

	if len(s.Expect) > 0 && len(s.Expect) != len(s.Cycles) {
		return fmt.Errorf("expect must describe every cycle: got %d entries for %d cycles",
			len(s.Expect), len(s.Cycles))
	}
	for i, exp := range s.Expect {
		switch runlog.Action(exp.Action) {
		case runlog.ActionNoOp, runlog.ActionUpdated:
		default:
			return fmt.Errorf("expect[%d]: unknown action %q", i, exp.Action)
		}
		switch runlog.Outcome(exp.Outcome) {
		case runlog.OutcomeSuccess, runlog.OutcomePartialFailure, runlog.OutcomeHardFailure:
		default:
			return fmt.Errorf("expect[%d]: unknown outcome %q", i, exp.Outcome)
		}
		for name, status := range exp.Services {
			if !seen[name] {
				return fmt.Errorf("expect[%d]: unknown service %q", i, name)
			}
			switch runlog.ServiceStatus(status) {
			case runlog.StatusOK, runlog.StatusFailed, runlog.StatusSkipped:
			default:
				return fmt.Errorf("expect[%d]: unknown status %q for service %q", i, status, name)
			}
		}
	}
	return nil
}

// descriptors converts the service scripts into restart descriptors.
// Backoff is always zero so health polls run back to back.
func (s *Scenario) descriptors() []service.Descriptor {
	out := make([]service.Descriptor, 0, len(s.Services))
	for _, svc := range s.Services {
		retries := svc.Retries
		if retries == 0 {
			retries = 3
		}
		out = append(out, service.Descriptor{
			Name:         svc.Name,
			Unit:         svc.Name + ".service",
			StartupOrder: svc.Order,
			Criticality:  service.Criticality(svc.Criticality),
			Retries:      retries,
		})
	}
	return out
}
