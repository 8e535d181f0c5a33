// Package service restarts and health-checks the managed services.
//
// The OS service manager is an opaque collaborator reached through the
// command runner. This package owns the restart discipline the source
// scripts lacked: restart one service at a time in startup order, poll
// health with bounded retries before moving on, and let criticality
// decide whether a failure aborts the rest of the sequence.
package service

import "time"

// Criticality decides whether a service's failure to come back healthy
// aborts the remaining restart sequence.
type Criticality string

const (
	// Required: failure aborts the remaining sequence; the cycle is a
	// hard failure.
	Required Criticality = "required"

	// Optional: failure is recorded and the sequence continues; the
	// cycle is at worst a partial failure.
	Optional Criticality = "optional"
)

// HealthMode selects how a service's health is probed after restart.
type HealthMode string

const (
	// HealthManager asks the service manager whether the unit is active.
	// The default when no health block is configured.
	HealthManager HealthMode = "manager"

	// HealthCommand runs a configured argv; exit 0 means healthy. No
	// richer protocol is assumed. The contract is supplied by the
	// operator's configuration.
	HealthCommand HealthMode = "command"
)

// Health is a service's health-check contract.
type Health struct {
	Mode    HealthMode
	Command []string // argv, only for HealthCommand
}

// Descriptor describes one managed service. Built from configuration at
// startup and immutable for the daemon's lifetime.
type Descriptor struct {
	// Name is the unique key used in cycle records and log lines.
	Name string

	// Unit is the service manager's name for the service.
	Unit string

	// StartupOrder positions the service in the restart sequence;
	// lower restarts first.
	StartupOrder int

	Criticality Criticality

	// Retries is the maximum number of health polls after a restart.
	Retries int

	// Backoff is the fixed pause between health polls.
	Backoff time.Duration

	Health Health
}
