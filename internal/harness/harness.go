package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/upcycle-sh/upcycle/internal/clock"
	"github.com/upcycle-sh/upcycle/internal/repo"
	"github.com/upcycle-sh/upcycle/internal/runlog"
	"github.com/upcycle-sh/upcycle/internal/scheduler"
	"github.com/upcycle-sh/upcycle/internal/service"
)

// scenarioEpoch is the fake clock's starting instant. The first cycle
// runs one second after it.
var scenarioEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Result holds everything a scenario execution produced.
type Result struct {
	// Records are the cycle records in execution order.
	Records []runlog.CycleRecord

	// Transcript is the raw JSONL run log, byte-stable across runs.
	Transcript []byte

	// Restarts are the service restarts issued, in order.
	Restarts []string

	// Pass reports whether all expectations held.
	Pass bool

	// Errors lists every expectation violation.
	Errors []string
}

// scriptedWatcher replays the scenario's fetch results.
type scriptedWatcher struct {
	cycles []CycleScript
	idx    int
}

func (w *scriptedWatcher) FetchLatest(context.Context) (repo.Revision, repo.Revision, error) {
	if w.idx >= len(w.cycles) {
		return "", "", fmt.Errorf("fetch called beyond scripted cycle %d", len(w.cycles))
	}
	cycle := w.cycles[w.idx]
	w.idx++
	if cycle.FetchError != "" {
		return "", "", errors.New(cycle.FetchError)
	}
	return repo.Revision(cycle.Old), repo.Revision(cycle.New), nil
}

// scriptedSyncer fails the syncs the scenario says should fail. The
// scheduler only syncs on revision changes, so the error queue holds one
// entry per change cycle, in order.
type scriptedSyncer struct {
	errs []string
	idx  int
}

func (s *scriptedSyncer) Sync(context.Context) error {
	if s.idx >= len(s.errs) {
		return fmt.Errorf("sync called beyond scripted cycle %d", len(s.errs))
	}
	msg := s.errs[s.idx]
	s.idx++
	if msg != "" {
		return errors.New(msg)
	}
	return nil
}

// Run executes the scenario against the real scheduler, service set,
// and run log, and checks its expectations.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "upcycle-harness-*")
	if err != nil {
		return nil, fmt.Errorf("creating harness dir: %w", err)
	}
	defer os.RemoveAll(dir)

	store, err := runlog.Open(filepath.Join(dir, "cycles.db"))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	linePath := filepath.Join(dir, "cycles.jsonl")
	lines, err := runlog.OpenLineWriter(linePath)
	if err != nil {
		return nil, fmt.Errorf("opening run log file: %w", err)
	}
	defer lines.Close()

	manager := service.NewScriptedManager()
	for _, svc := range scenario.Services {
		behavior := service.Behavior{
			HealthyAfter:    svc.HealthyAfter,
			UnhealthyReason: svc.UnhealthyReason,
		}
		if svc.RestartError != "" {
			behavior.RestartErr = errors.New(svc.RestartError)
		}
		manager.SetBehavior(svc.Name, behavior)
	}

	var syncErrs []string
	for _, cycle := range scenario.Cycles {
		if cycle.FetchError == "" && cycle.Old != cycle.New {
			syncErrs = append(syncErrs, cycle.SyncError)
		}
	}

	ids := make([]string, len(scenario.Cycles))
	for i := range ids {
		ids[i] = fmt.Sprintf("cycle-%03d", i+1)
	}

	clk := clock.Fake(scenarioEpoch)
	sched := scheduler.New(scheduler.Params{
		Watcher:      &scriptedWatcher{cycles: scenario.Cycles},
		Syncer:       &scriptedSyncer{errs: syncErrs},
		Services:     service.NewSet(scenario.descriptors(), manager, clk),
		Recorder:     runlog.NewRecorder(store, lines),
		Clock:        clk,
		IDs:          scheduler.NewFixedGenerator(ids...),
		PollInterval: time.Minute,
	})

	ctx := context.Background()
	result := &Result{}
	for range scenario.Cycles {
		clk.Advance(time.Second)
		result.Records = append(result.Records, sched.RunCycle(ctx))
	}

	transcript, err := os.ReadFile(linePath)
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	result.Transcript = transcript
	result.Restarts = manager.Restarts()

	result.Errors = checkExpectations(scenario, result.Records)
	result.Pass = len(result.Errors) == 0
	return result, nil
}
