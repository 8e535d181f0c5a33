// Package scheduler drives the update cycle state machine.
//
// A single goroutine owns the loop: on every tick it fetches the latest
// source revision, decides whether an update is warranted, and sequences
// dependency sync and the service restart pipeline, appending exactly one
// cycle record per pass. Stage failures become record outcomes, never
// daemon crashes; only the next tick retries.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/upcycle-sh/upcycle/internal/clock"
	"github.com/upcycle-sh/upcycle/internal/repo"
	"github.com/upcycle-sh/upcycle/internal/runlog"
)

// Watcher is the source-of-truth seam (see internal/repo).
type Watcher interface {
	FetchLatest(ctx context.Context) (repo.Revision, repo.Revision, error)
}

// Syncer is the dependency materialization seam (see internal/depsync).
type Syncer interface {
	Sync(ctx context.Context) error
}

// Restarter is the service restart seam (see internal/service).
type Restarter interface {
	RestartAll(ctx context.Context) ([]runlog.ServiceOutcome, runlog.Outcome)
}

// Appender is the run-log seam (see internal/runlog).
type Appender interface {
	Append(ctx context.Context, rec runlog.CycleRecord) error
}

// Params collects the scheduler's collaborators and tuning.
type Params struct {
	Watcher  Watcher
	Syncer   Syncer
	Services Restarter
	Recorder Appender

	Clock clock.Clock
	IDs   IDGenerator
	Seq   *Seq

	// PollInterval is the tick period for Run.
	PollInterval time.Duration

	// StageTimeout bounds the fetch and sync stages individually; 0
	// disables the bound. The restart stage is bounded by its own
	// retry/backoff discipline instead.
	StageTimeout time.Duration
}

// Stats is a snapshot of the scheduler's counters.
type Stats struct {
	CyclesRun    int64
	TicksDropped int64
}

// Scheduler is the single-writer control loop.
//
// Thread-safety model:
//   - Run: must be called from exactly one goroutine
//   - Trigger, State, Stats: safe from any goroutine
//
// Only one cycle is ever active; a tick or trigger arriving while a
// cycle is in flight is dropped, not queued, so cycles never overlap.
type Scheduler struct {
	watcher      Watcher
	syncer       Syncer
	services     Restarter
	recorder     Appender
	clk          clock.Clock
	ids          IDGenerator
	seq          *Seq
	pollInterval time.Duration
	stageTimeout time.Duration
	log          *slog.Logger

	state        atomic.Int32
	trigger      chan struct{}
	cyclesRun    atomic.Int64
	ticksDropped atomic.Int64
}

// New creates a Scheduler. Params.Clock, IDs, and Seq may be nil, in
// which case the real clock, UUIDv7 IDs, and a fresh sequence are used.
func New(p Params) *Scheduler {
	if p.Clock == nil {
		p.Clock = clock.Real()
	}
	if p.IDs == nil {
		p.IDs = UUIDv7Generator{}
	}
	if p.Seq == nil {
		p.Seq = NewSeq()
	}
	return &Scheduler{
		watcher:      p.Watcher,
		syncer:       p.Syncer,
		services:     p.Services,
		recorder:     p.Recorder,
		clk:          p.Clock,
		ids:          p.IDs,
		seq:          p.Seq,
		pollInterval: p.PollInterval,
		stageTimeout: p.StageTimeout,
		trigger:      make(chan struct{}, 1),
		log:          slog.Default().With("component", "scheduler"),
	}
}

// State returns the scheduler's current state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Stats returns a snapshot of the cycle and drop counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		CyclesRun:    s.cyclesRun.Load(),
		TicksDropped: s.ticksDropped.Load(),
	}
}

// Trigger requests an immediate cycle. Returns true if the request was
// accepted. A trigger arriving while a cycle is in flight is dropped
// and counted, the same no-overlap rule as timer ticks.
func (s *Scheduler) Trigger() bool {
	if s.State() != StateIdle {
		s.ticksDropped.Add(1)
		s.log.Debug("trigger dropped, cycle in flight", "state", s.State())
		return false
	}
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		s.ticksDropped.Add(1)
		s.log.Debug("trigger dropped, one already pending")
		return false
	}
}

// Run starts the control loop and blocks until the context is cancelled.
//
// Must be called from exactly one goroutine. All state transitions,
// stage calls, and run-log appends happen on that goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler starting", "poll_interval", s.pollInterval)

	ticker := s.clk.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping", "reason", ctx.Err())
			return ctx.Err()

		case <-ticker.C:
			s.RunCycle(ctx)
			s.drainPending(ticker)

		case <-s.trigger:
			s.RunCycle(ctx)
			s.drainPending(ticker)
		}
	}
}

// drainPending discards ticks and triggers that accumulated while a
// cycle was running. Dropped, not queued: a backlog of stale ticks must
// not cause back-to-back cycles.
func (s *Scheduler) drainPending(ticker *clock.Ticker) {
	for {
		select {
		case <-ticker.C:
			s.ticksDropped.Add(1)
			s.log.Debug("stale tick dropped")
		case <-s.trigger:
			s.ticksDropped.Add(1)
			s.log.Debug("stale trigger dropped")
		default:
			return
		}
	}
}

// RunCycle executes one full pass of the state machine and returns the
// record it appended. Exported for the `once` command and the scenario
// harness; the daemon loop calls it on every accepted tick.
func (s *Scheduler) RunCycle(ctx context.Context) runlog.CycleRecord {
	s.setState(StateFetching)
	defer s.setState(StateIdle)
	s.cyclesRun.Add(1)

	rec := runlog.CycleRecord{
		ID:        s.ids.Generate(),
		Seq:       s.seq.Next(),
		Timestamp: s.clk.Now().UTC(),
	}

	fetchCtx, cancel := s.stageContext(ctx)
	before, after, err := s.watcher.FetchLatest(fetchCtx)
	cancel()
	if err != nil {
		s.log.Error("fetch failed", "cycle", rec.ID, "error", err)
		rec.Action = runlog.ActionNoOp
		rec.Outcome = runlog.OutcomeHardFailure
		rec.FailureStage = runlog.StageFetch
		rec.Reason = err.Error()
		s.append(ctx, rec)
		return rec
	}
	rec.OldRevision = before
	rec.NewRevision = after

	if before == after {
		s.log.Debug("no remote change", "cycle", rec.ID, "revision", after.Short())
		rec.Action = runlog.ActionNoOp
		rec.Outcome = runlog.OutcomeSuccess
		s.append(ctx, rec)
		return rec
	}

	s.log.Info("new revision detected",
		"cycle", rec.ID,
		"old", before.Short(),
		"new", after.Short(),
	)

	s.setState(StateSyncing)
	syncCtx, cancel := s.stageContext(ctx)
	err = s.syncer.Sync(syncCtx)
	cancel()
	if err != nil {
		// Restarting services against a half-synced dependency set is
		// the worst partial-failure state; leave them untouched.
		s.log.Error("dependency sync failed, services untouched", "cycle", rec.ID, "error", err)
		rec.Action = runlog.ActionNoOp
		rec.Outcome = runlog.OutcomeHardFailure
		rec.FailureStage = runlog.StageSync
		rec.Reason = err.Error()
		s.append(ctx, rec)
		return rec
	}

	s.setState(StateRestarting)
	outcomes, outcome := s.services.RestartAll(ctx)
	rec.Action = runlog.ActionUpdated
	rec.Services = outcomes
	rec.Outcome = outcome
	if outcome == runlog.OutcomeHardFailure {
		rec.FailureStage = runlog.StageRestart
	}

	s.log.Info("cycle complete",
		"cycle", rec.ID,
		"action", rec.Action,
		"outcome", rec.Outcome,
	)
	s.append(ctx, rec)
	return rec
}

func (s *Scheduler) setState(state State) {
	s.state.Store(int32(state))
}

// stageContext bounds a blocking external stage. The deadline uses real
// time (context deadlines cannot be driven by an injected clock); tests
// that need determinism disable the bound instead.
func (s *Scheduler) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.stageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.stageTimeout)
}

// append writes the record, logging and continuing on failure. A run-log
// write failure must not take the daemon down with it; the cycle already
// happened and the next one proceeds independently.
func (s *Scheduler) append(ctx context.Context, rec runlog.CycleRecord) {
	if err := s.recorder.Append(ctx, rec); err != nil {
		s.log.Error("run log append failed",
			"cycle", rec.ID,
			"seq", rec.Seq,
			"outcome", rec.Outcome,
			"error", err,
		)
	}
}
