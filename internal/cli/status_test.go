package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/upcycle-sh/upcycle/internal/runlog"
)

func TestRenderStatusText(t *testing.T) {
	last := runlog.CycleRecord{
		ID: "cycle-9", Seq: 9,
		Timestamp:   time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		OldRevision: "aaa111aaa111deadbeef", NewRevision: "bbb222bbb222deadbeef",
		Action: runlog.ActionUpdated, Outcome: runlog.OutcomePartialFailure,
		Services: []runlog.ServiceOutcome{
			{Service: "web-server", Status: runlog.StatusOK, Attempts: 1},
			{Service: "tunnel", Status: runlog.StatusFailed, Reason: "unhealthy after 5 attempts", Attempts: 5},
		},
	}
	result := StatusResult{
		LastCycle: &last,
		Services: []ServiceState{
			{Name: "web-server", Unit: "app-web.service", Healthy: true},
			{Name: "tunnel", Unit: "cloudflared.service", Healthy: false, Reason: "inactive"},
		},
	}

	out := renderStatusText(result)

	assert.Contains(t, out, "cycle cycle-9 (seq 9)")
	assert.Contains(t, out, "aaa111aaa111 -> bbb222bbb222", "revisions render truncated")
	assert.Contains(t, out, "Web Server")
	assert.Contains(t, out, "Tunnel")
	assert.Contains(t, out, "unhealthy (inactive)")
}

func TestRenderStatusTextEmptyLog(t *testing.T) {
	result := StatusResult{
		Services: []ServiceState{
			{Name: "web-server", Unit: "app-web.service", Healthy: true},
		},
	}
	out := renderStatusText(result)
	assert.Contains(t, out, "No cycles recorded yet")
	assert.Contains(t, out, "healthy")
}

func TestRenderCycleText(t *testing.T) {
	rec := runlog.CycleRecord{
		ID: "cycle-3", Seq: 3,
		Timestamp: time.Date(2026, 3, 1, 8, 2, 0, 0, time.UTC),
		Action:    runlog.ActionNoOp, Outcome: runlog.OutcomeHardFailure,
		FailureStage: runlog.StageFetch, Reason: "could not resolve host",
	}

	out := renderCycleText(rec)

	assert.Contains(t, out, "outcome: hard-failure (stage fetch)")
	assert.Contains(t, out, "reason:  could not resolve host")
	assert.NotContains(t, out, "revision", "fetch failures carry no revisions")
}
