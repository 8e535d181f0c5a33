// Package runlog is the append-only record of update cycles.
//
// Every pass of the scheduler produces exactly one CycleRecord. Records
// are written to two sinks: a JSONL file (one canonical object per line,
// the human-greppable persisted form) and a SQLite index that backs the
// status and history queries. Neither sink ever mutates or removes a
// record; rotation and retention are operator concerns outside the
// daemon.
package runlog

import (
	"fmt"
	"time"

	"github.com/upcycle-sh/upcycle/internal/repo"
)

// Action is what a cycle did to the deployment.
type Action string

const (
	// ActionNoOp means no restart sequence ran: either the revision was
	// unchanged, or the cycle failed before services were touched.
	ActionNoOp Action = "no-op"

	// ActionUpdated means the restart sequence was invoked.
	ActionUpdated Action = "updated"
)

// Outcome is the cycle-level result.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomePartialFailure Outcome = "partial-failure"
	OutcomeHardFailure    Outcome = "hard-failure"
)

// Stage names the pipeline stage at which a cycle failed. Empty for
// cycles that reached a terminal outcome without a stage-level error.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageSync    Stage = "sync"
	StageRestart Stage = "restart"
)

// ServiceStatus is a single service's result within a cycle.
type ServiceStatus string

const (
	// StatusOK: the service restarted and reported healthy.
	StatusOK ServiceStatus = "ok"

	// StatusFailed: the restart command failed or health polls exhausted.
	StatusFailed ServiceStatus = "failed"

	// StatusSkipped: a required service earlier in the order failed (or
	// shutdown arrived), so this service was never attempted.
	StatusSkipped ServiceStatus = "skipped"
)

// ServiceOutcome records one service's fate within an updated cycle.
type ServiceOutcome struct {
	Service  string        `json:"service"`
	Status   ServiceStatus `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
}

// CycleRecord is the immutable outcome of one scheduler cycle.
//
// ID is a UUIDv7, time-sortable for log correlation. Seq is the
// scheduler's monotonic sequence number, strictly increasing across
// daemon restarts (resumed from the store on startup).
type CycleRecord struct {
	ID           string           `json:"id"`
	Seq          int64            `json:"seq"`
	Timestamp    time.Time        `json:"timestamp"`
	OldRevision  repo.Revision    `json:"old_revision"`
	NewRevision  repo.Revision    `json:"new_revision"`
	Action       Action           `json:"action"`
	Outcome      Outcome          `json:"outcome"`
	FailureStage Stage            `json:"failure_stage,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Services     []ServiceOutcome `json:"services,omitempty"`
}

// Validate checks the record invariants before it is appended:
//
//   - a no-op record carries no per-service outcomes
//   - an updated record names at least one service
//   - enum fields hold known values
func (r CycleRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("cycle record: missing id")
	}
	if r.Seq <= 0 {
		return fmt.Errorf("cycle record %s: non-positive seq %d", r.ID, r.Seq)
	}
	switch r.Action {
	case ActionNoOp:
		if len(r.Services) > 0 {
			return fmt.Errorf("cycle record %s: no-op with %d service outcomes", r.ID, len(r.Services))
		}
	case ActionUpdated:
		if len(r.Services) == 0 {
			return fmt.Errorf("cycle record %s: updated with no service outcomes", r.ID)
		}
	default:
		return fmt.Errorf("cycle record %s: unknown action %q", r.ID, r.Action)
	}
	switch r.Outcome {
	case OutcomeSuccess, OutcomePartialFailure, OutcomeHardFailure:
	default:
		return fmt.Errorf("cycle record %s: unknown outcome %q", r.ID, r.Outcome)
	}
	for _, s := range r.Services {
		switch s.Status {
		case StatusOK, StatusFailed, StatusSkipped:
		default:
			return fmt.Errorf("cycle record %s: service %s has unknown status %q", r.ID, s.Service, s.Status)
		}
	}
	return nil
}
