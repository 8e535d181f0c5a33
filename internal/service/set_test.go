package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upcycle-sh/upcycle/internal/clock"
	"github.com/upcycle-sh/upcycle/internal/command"
	"github.com/upcycle-sh/upcycle/internal/runlog"
)

func newRunnerScript(t *testing.T, line, stdout string, err error) command.Runner {
	t.Helper()
	r := command.NewScriptedRunner()
	r.Script(line, command.Response{Stdout: stdout, Err: err})
	return r
}

// testDescriptors mirrors the usual deployment shape: a required server
// first, two optional processes after it. Backoff 0 keeps polls
// immediate under the real clock.
func testDescriptors() []Descriptor {
	return []Descriptor{
		{Name: "web-server", Unit: "web-server.service", StartupOrder: 1, Criticality: Required, Retries: 3},
		{Name: "worker", Unit: "worker.service", StartupOrder: 2, Criticality: Optional, Retries: 3},
		{Name: "tunnel", Unit: "tunnel.service", StartupOrder: 3, Criticality: Optional, Retries: 3},
	}
}

func newTestSet(manager Manager) *Set {
	return NewSet(testDescriptors(), manager, clock.Real())
}

func outcomeByService(t *testing.T, outcomes []runlog.ServiceOutcome, name string) runlog.ServiceOutcome {
	t.Helper()
	for _, out := range outcomes {
		if out.Service == name {
			return out
		}
	}
	t.Fatalf("no outcome for service %s", name)
	return runlog.ServiceOutcome{}
}

func TestRestartAll_AllHealthy(t *testing.T) {
	m := NewScriptedManager()
	outcomes, outcome := newTestSet(m).RestartAll(context.Background())

	assert.Equal(t, runlog.OutcomeSuccess, outcome)
	require.Len(t, outcomes, 3)
	for _, out := range outcomes {
		assert.Equal(t, runlog.StatusOK, out.Status)
		assert.Equal(t, 1, out.Attempts)
	}
	assert.Equal(t, []string{"web-server", "worker", "tunnel"}, m.Restarts(),
		"restarts must follow ascending startup order")
}

func TestRestartAll_OrderSortedFromUnsortedInput(t *testing.T) {
	m := NewScriptedManager()
	shuffled := []Descriptor{
		{Name: "tunnel", Unit: "tunnel.service", StartupOrder: 3, Criticality: Optional, Retries: 1},
		{Name: "web-server", Unit: "web-server.service", StartupOrder: 1, Criticality: Required, Retries: 1},
		{Name: "worker", Unit: "worker.service", StartupOrder: 2, Criticality: Optional, Retries: 1},
	}

	NewSet(shuffled, m, clock.Real()).RestartAll(context.Background())
	assert.Equal(t, []string{"web-server", "worker", "tunnel"}, m.Restarts())
}

func TestRestartAll_OptionalFailureContinues(t *testing.T) {
	m := NewScriptedManager()
	m.SetBehavior("worker", Behavior{HealthyAfter: -1, UnhealthyReason: "crash loop"})

	outcomes, outcome := newTestSet(m).RestartAll(context.Background())

	assert.Equal(t, runlog.OutcomePartialFailure, outcome)
	assert.Equal(t, runlog.StatusOK, outcomeByService(t, outcomes, "web-server").Status)
	worker := outcomeByService(t, outcomes, "worker")
	assert.Equal(t, runlog.StatusFailed, worker.Status)
	assert.Contains(t, worker.Reason, "unhealthy after 3 attempts")
	assert.Contains(t, worker.Reason, "crash loop")
	assert.Equal(t, runlog.StatusOK, outcomeByService(t, outcomes, "tunnel").Status,
		"optional failure must not stop later services")
	assert.Equal(t, []string{"web-server", "worker", "tunnel"}, m.Restarts())
}

func TestRestartAll_RequiredFailureAbortsRemainder(t *testing.T) {
	m := NewScriptedManager()
	m.SetBehavior("web-server", Behavior{HealthyAfter: -1, UnhealthyReason: "port in use"})

	outcomes, outcome := newTestSet(m).RestartAll(context.Background())

	assert.Equal(t, runlog.OutcomeHardFailure, outcome)
	require.Len(t, outcomes, 3, "every configured service appears exactly once")
	assert.Equal(t, runlog.StatusFailed, outcomeByService(t, outcomes, "web-server").Status)
	assert.Equal(t, runlog.StatusSkipped, outcomeByService(t, outcomes, "worker").Status)
	assert.Equal(t, runlog.StatusSkipped, outcomeByService(t, outcomes, "tunnel").Status)

	assert.Equal(t, []string{"web-server"}, m.Restarts(),
		"no restart command may reach services after a required failure")
}

func TestRestartAll_RestartCommandFailure(t *testing.T) {
	m := NewScriptedManager()
	m.SetBehavior("worker", Behavior{RestartErr: errors.New("unit not found")})

	outcomes, outcome := newTestSet(m).RestartAll(context.Background())

	assert.Equal(t, runlog.OutcomePartialFailure, outcome)
	worker := outcomeByService(t, outcomes, "worker")
	assert.Equal(t, runlog.StatusFailed, worker.Status)
	assert.Contains(t, worker.Reason, "unit not found")
	assert.Equal(t, 0, worker.Attempts, "no health polls after a failed restart command")
}

func TestRestartAll_HealthyAfterRetries(t *testing.T) {
	m := NewScriptedManager()
	m.SetBehavior("web-server", Behavior{HealthyAfter: 2})

	outcomes, outcome := newTestSet(m).RestartAll(context.Background())

	assert.Equal(t, runlog.OutcomeSuccess, outcome)
	assert.Equal(t, 3, outcomeByService(t, outcomes, "web-server").Attempts,
		"two failing polls then a healthy one")
}

func TestRestartAll_BackoffBetweenPolls(t *testing.T) {
	fake := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewScriptedManager()
	m.SetBehavior("web-server", Behavior{HealthyAfter: 1})

	descriptors := []Descriptor{
		{Name: "web-server", Unit: "web-server.service", StartupOrder: 1, Criticality: Required, Retries: 3, Backoff: 2 * time.Second},
	}
	set := NewSet(descriptors, m, fake)

	done := make(chan runlog.Outcome, 1)
	go func() {
		_, outcome := set.RestartAll(context.Background())
		done <- outcome
	}()

	// The poller must block on the backoff timer after the first failed
	// poll, then succeed once the clock moves.
	fake.BlockUntil(1)
	fake.Advance(2 * time.Second)

	select {
	case outcome := <-done:
		assert.Equal(t, runlog.OutcomeSuccess, outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("RestartAll did not complete after backoff advance")
	}
}

func TestRestartAll_CancellationAtPollBoundary(t *testing.T) {
	fake := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewScriptedManager()
	m.SetBehavior("web-server", Behavior{HealthyAfter: -1})

	descriptors := []Descriptor{
		{Name: "web-server", Unit: "web-server.service", StartupOrder: 1, Criticality: Required, Retries: 10, Backoff: time.Minute},
		{Name: "worker", Unit: "worker.service", StartupOrder: 2, Criticality: Optional, Retries: 1},
	}
	set := NewSet(descriptors, m, fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan []runlog.ServiceOutcome, 1)
	go func() {
		outcomes, _ := set.RestartAll(ctx)
		done <- outcomes
	}()

	fake.BlockUntil(1) // poller parked on backoff
	cancel()

	select {
	case outcomes := <-done:
		web := outcomeByService(t, outcomes, "web-server")
		assert.Equal(t, runlog.StatusFailed, web.Status)
		assert.Contains(t, web.Reason, "shutdown during health poll")
		assert.Equal(t, runlog.StatusSkipped, outcomeByService(t, outcomes, "worker").Status)
	case <-time.After(5 * time.Second):
		t.Fatal("RestartAll did not return after cancellation")
	}
}

func TestDeriveOutcome_SkippedIsHardFailure(t *testing.T) {
	services := testDescriptors()
	outcomes := []runlog.ServiceOutcome{
		{Service: "web-server", Status: runlog.StatusOK},
		{Service: "worker", Status: runlog.StatusSkipped},
		{Service: "tunnel", Status: runlog.StatusSkipped},
	}
	assert.Equal(t, runlog.OutcomeHardFailure, deriveOutcome(services, outcomes))
}

func TestSystemdManager_RestartAndHealth(t *testing.T) {
	// Scripted at the command level to pin the exact systemctl argv.
	t.Run("restart issues systemctl restart", func(t *testing.T) {
		r := newRunnerScript(t, "systemctl restart web-server.service", "", nil)
		m := NewSystemdManager(r)
		err := m.Restart(context.Background(), Descriptor{Name: "web-server", Unit: "web-server.service"})
		assert.NoError(t, err)
	})

	t.Run("manager health uses is-active", func(t *testing.T) {
		r := newRunnerScript(t, "systemctl is-active web-server.service", "active", nil)
		m := NewSystemdManager(r)
		healthy, reason := m.Healthy(context.Background(), Descriptor{Name: "web-server", Unit: "web-server.service"})
		assert.True(t, healthy)
		assert.Empty(t, reason)
	})

	t.Run("inactive unit is unhealthy with reason", func(t *testing.T) {
		r := newRunnerScript(t, "systemctl is-active web-server.service", "activating", nil)
		m := NewSystemdManager(r)
		healthy, reason := m.Healthy(context.Background(), Descriptor{Name: "web-server", Unit: "web-server.service"})
		assert.False(t, healthy)
		assert.Contains(t, reason, "activating")
	})

	t.Run("command health runs configured argv", func(t *testing.T) {
		r := newRunnerScript(t, "curl -fsS http://localhost:8080/healthz", "ok", nil)
		m := NewSystemdManager(r)
		d := Descriptor{
			Name:   "web-server",
			Unit:   "web-server.service",
			Health: Health{Mode: HealthCommand, Command: []string{"curl", "-fsS", "http://localhost:8080/healthz"}},
		}
		healthy, _ := m.Healthy(context.Background(), d)
		assert.True(t, healthy)
	})
}
