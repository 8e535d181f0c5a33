package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/upcycle-sh/upcycle/internal/clock"
	"github.com/upcycle-sh/upcycle/internal/runlog"
)

// Set is the ordered collection of managed services.
//
// RestartAll is strictly sequential: one service at a time, in ascending
// startup order. Sequential restarts avoid resource contention between
// dependent services and keep the run log's ordering meaningful.
type Set struct {
	services []Descriptor
	manager  Manager
	clock    clock.Clock
	log      *slog.Logger
}

// NewSet builds a Set. The descriptor slice is copied and sorted by
// StartupOrder (name as tiebreak); the input is never mutated.
func NewSet(descriptors []Descriptor, manager Manager, clk clock.Clock) *Set {
	services := make([]Descriptor, len(descriptors))
	copy(services, descriptors)
	sort.SliceStable(services, func(i, j int) bool {
		if services[i].StartupOrder != services[j].StartupOrder {
			return services[i].StartupOrder < services[j].StartupOrder
		}
		return services[i].Name < services[j].Name
	})

	return &Set{
		services: services,
		manager:  manager,
		clock:    clk,
		log:      slog.Default().With("component", "services"),
	}
}

// Names returns the service names in restart order.
func (s *Set) Names() []string {
	names := make([]string, len(s.services))
	for i, d := range s.services {
		names[i] = d.Name
	}
	return names
}

// Descriptors returns the descriptors in restart order.
func (s *Set) Descriptors() []Descriptor {
	out := make([]Descriptor, len(s.services))
	copy(out, s.services)
	return out
}

// RestartAll restarts every configured service in startup order and
// returns one outcome per service plus the derived cycle-level outcome.
//
// A failed required service aborts the remainder immediately: later
// services are recorded as skipped, never attempted. A failed optional
// service is recorded and the sequence continues. Cancellation is
// honored between services and between health polls, never mid-restart.
func (s *Set) RestartAll(ctx context.Context) ([]runlog.ServiceOutcome, runlog.Outcome) {
	outcomes := make([]runlog.ServiceOutcome, 0, len(s.services))
	abortReason := ""

	for _, d := range s.services {
		if abortReason != "" {
			outcomes = append(outcomes, runlog.ServiceOutcome{
				Service: d.Name,
				Status:  runlog.StatusSkipped,
				Reason:  abortReason,
			})
			continue
		}
		if err := ctx.Err(); err != nil {
			abortReason = "shutdown requested"
			outcomes = append(outcomes, runlog.ServiceOutcome{
				Service: d.Name,
				Status:  runlog.StatusSkipped,
				Reason:  abortReason,
			})
			continue
		}

		out := s.restartOne(ctx, d)
		outcomes = append(outcomes, out)

		if out.Status == runlog.StatusFailed && d.Criticality == Required {
			abortReason = fmt.Sprintf("aborted: required service %s failed", d.Name)
			s.log.Error("required service failed, aborting restart sequence",
				"service", d.Name,
				"reason", out.Reason,
			)
		}
	}

	return outcomes, deriveOutcome(s.services, outcomes)
}

// restartOne issues the restart and polls health up to Retries times with
// a fixed backoff between polls.
//
// The restart command itself runs under a non-cancellable context: a
// shutdown signal must never interrupt a service manager operation
// halfway. Health polls remain cancellable at each boundary.
func (s *Set) restartOne(ctx context.Context, d Descriptor) runlog.ServiceOutcome {
	s.log.Info("restarting service", "service", d.Name, "unit", d.Unit)

	if err := s.manager.Restart(context.WithoutCancel(ctx), d); err != nil {
		return runlog.ServiceOutcome{
			Service: d.Name,
			Status:  runlog.StatusFailed,
			Reason:  err.Error(),
		}
	}

	lastReason := "no health polls configured"
	for attempt := 1; attempt <= d.Retries; attempt++ {
		healthy, reason := s.manager.Healthy(ctx, d)
		if healthy {
			s.log.Info("service healthy", "service", d.Name, "attempts", attempt)
			return runlog.ServiceOutcome{
				Service:  d.Name,
				Status:   runlog.StatusOK,
				Attempts: attempt,
			}
		}
		lastReason = reason
		s.log.Debug("service not yet healthy",
			"service", d.Name,
			"attempt", attempt,
			"reason", reason,
		)

		if attempt < d.Retries {
			select {
			case <-ctx.Done():
				return runlog.ServiceOutcome{
					Service:  d.Name,
					Status:   runlog.StatusFailed,
					Reason:   "shutdown during health poll",
					Attempts: attempt,
				}
			case <-s.clock.After(d.Backoff):
			}
		}
	}

	return runlog.ServiceOutcome{
		Service:  d.Name,
		Status:   runlog.StatusFailed,
		Reason:   fmt.Sprintf("unhealthy after %d attempts: %s", d.Retries, lastReason),
		Attempts: d.Retries,
	}
}

// deriveOutcome maps per-service results to the cycle-level outcome:
// any required failure (or skip) is a hard failure; otherwise any
// optional failure is a partial failure; otherwise success.
func deriveOutcome(services []Descriptor, outcomes []runlog.ServiceOutcome) runlog.Outcome {
	criticality := make(map[string]Criticality, len(services))
	for _, d := range services {
		criticality[d.Name] = d.Criticality
	}

	anyFailed := false
	for _, out := range outcomes {
		switch out.Status {
		case runlog.StatusSkipped:
			return runlog.OutcomeHardFailure
		case runlog.StatusFailed:
			if criticality[out.Service] == Required {
				return runlog.OutcomeHardFailure
			}
			anyFailed = true
		}
	}
	if anyFailed {
		return runlog.OutcomePartialFailure
	}
	return runlog.OutcomeSuccess
}
