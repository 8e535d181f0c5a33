package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upcycle-sh/upcycle/internal/runlog"
)

// seedRunLog writes a few cycles into the store the test config points at.
func seedRunLog(t *testing.T, dir string) {
	t.Helper()
	store, err := runlog.Open(filepath.Join(dir, "cycles.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	records := []runlog.CycleRecord{
		{
			ID: "cycle-1", Seq: 1, Timestamp: base,
			OldRevision: "aaa111aaa111", NewRevision: "aaa111aaa111",
			Action: runlog.ActionNoOp, Outcome: runlog.OutcomeSuccess,
		},
		{
			ID: "cycle-2", Seq: 2, Timestamp: base.Add(time.Minute),
			OldRevision: "aaa111aaa111", NewRevision: "bbb222bbb222",
			Action: runlog.ActionUpdated, Outcome: runlog.OutcomeSuccess,
			Services: []runlog.ServiceOutcome{
				{Service: "web-server", Status: runlog.StatusOK, Attempts: 1},
				{Service: "tunnel", Status: runlog.StatusOK, Attempts: 2},
			},
		},
		{
			ID: "cycle-3", Seq: 3, Timestamp: base.Add(2 * time.Minute),
			Action: runlog.ActionNoOp, Outcome: runlog.OutcomeHardFailure,
			FailureStage: runlog.StageFetch, Reason: "could not resolve host",
		},
	}
	for _, rec := range records {
		require.NoError(t, store.AppendCycle(ctx, rec))
	}
}

func runHistoryCommand(t *testing.T, opts *HistoryOptions, flags ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewHistoryCommand(opts.RootOptions)
	cmd.SetOut(buf)
	cmd.SetArgs(flags)
	err := cmd.Execute()
	return buf.String(), err
}

func TestHistoryListsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)
	seedRunLog(t, dir)

	rootOpts := &RootOptions{Format: "text", ConfigPath: path}
	out, err := runHistoryCommand(t, &HistoryOptions{RootOptions: rootOpts})
	require.NoError(t, err)

	assert.Contains(t, out, "could not resolve host")
	assert.Contains(t, out, "aaa111aaa111 -> bbb222bbb222")
	assert.Contains(t, out, "2 ok")
	assert.Less(t, strings.Index(out, "could not resolve host"), strings.Index(out, "2 ok"),
		"newest cycle must render first")
}

func TestHistoryOutcomeFilter(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)
	seedRunLog(t, dir)

	rootOpts := &RootOptions{Format: "json", ConfigPath: path}
	out, err := runHistoryCommand(t, &HistoryOptions{RootOptions: rootOpts},
		"--outcome", "hard-failure")
	require.NoError(t, err)

	var resp struct {
		Status string               `json:"status"`
		Data   []runlog.CycleRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "cycle-3", resp.Data[0].ID)
}

func TestHistoryLimit(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)
	seedRunLog(t, dir)

	rootOpts := &RootOptions{Format: "json", ConfigPath: path}
	out, err := runHistoryCommand(t, &HistoryOptions{RootOptions: rootOpts},
		"--limit", "2")
	require.NoError(t, err)

	var resp struct {
		Data []runlog.CycleRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp.Data, 2)
}

func TestHistoryRejectsUnknownOutcome(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)

	rootOpts := &RootOptions{Format: "text", ConfigPath: path}
	_, err := runHistoryCommand(t, &HistoryOptions{RootOptions: rootOpts},
		"--outcome", "catastrophic")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, GetExitCode(err))
}

func TestHistoryEmptyLog(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)

	rootOpts := &RootOptions{Format: "text", ConfigPath: path}
	out, err := runHistoryCommand(t, &HistoryOptions{RootOptions: rootOpts})
	require.NoError(t, err)
	assert.Contains(t, out, "No cycles match")
}
