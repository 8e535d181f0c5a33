package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/upcycle-sh/upcycle/internal/repo"
)

// ErrNoCycles indicates an empty run log.
var ErrNoCycles = errors.New("run log is empty")

// Filter narrows a Cycles query. Zero values mean "no constraint";
// Limit 0 defaults to 20.
type Filter struct {
	Limit   int
	Outcome Outcome
	Action  Action
}

// DefaultLimit is applied when a filter does not specify one.
const DefaultLimit = 20

// LastCycle returns the most recent cycle record, or ErrNoCycles.
func (s *Store) LastCycle(ctx context.Context) (CycleRecord, error) {
	records, err := s.Cycles(ctx, Filter{Limit: 1})
	if err != nil {
		return CycleRecord{}, err
	}
	if len(records) == 0 {
		return CycleRecord{}, ErrNoCycles
	}
	return records[0], nil
}

// Cycles returns records matching the filter, newest first (descending
// seq). Service outcomes are loaded with each record, ordered by their
// position in the restart sequence.
func (s *Store) Cycles(ctx context.Context, f Filter) ([]CycleRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `
		SELECT id, seq, timestamp, old_revision, new_revision, action, outcome, failure_stage, reason
		FROM cycles
	`
	var (
		conditions []string
		args       []any
	)
	if f.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, string(f.Outcome))
	}
	if f.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, string(f.Action))
	}
	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		rec, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}

	for i := range records {
		services, err := s.serviceOutcomes(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Services = services
	}
	return records, nil
}

func scanCycle(rows *sql.Rows) (CycleRecord, error) {
	var (
		rec                   CycleRecord
		timestamp             string
		oldRev, newRev        string
		action, outcome, stage string
	)
	if err := rows.Scan(&rec.ID, &rec.Seq, &timestamp, &oldRev, &newRev, &action, &outcome, &stage, &rec.Reason); err != nil {
		return CycleRecord{}, fmt.Errorf("scan cycle: %w", err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return CycleRecord{}, fmt.Errorf("cycle %s: parse timestamp %q: %w", rec.ID, timestamp, err)
	}
	rec.Timestamp = parsed
	rec.OldRevision = repo.Revision(oldRev)
	rec.NewRevision = repo.Revision(newRev)
	rec.Action = Action(action)
	rec.Outcome = Outcome(outcome)
	rec.FailureStage = Stage(stage)
	return rec, nil
}

func (s *Store) serviceOutcomes(ctx context.Context, cycleID string) ([]ServiceOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT service, status, reason, attempts
		FROM service_outcomes
		WHERE cycle_id = ?
		ORDER BY position
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query service outcomes for %s: %w", cycleID, err)
	}
	defer rows.Close()

	var outcomes []ServiceOutcome
	for rows.Next() {
		var (
			out    ServiceOutcome
			status string
		)
		if err := rows.Scan(&out.Service, &status, &out.Reason, &out.Attempts); err != nil {
			return nil, fmt.Errorf("scan service outcome: %w", err)
		}
		out.Status = ServiceStatus(status)
		outcomes = append(outcomes, out)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate service outcomes: %w", err)
	}
	return outcomes, nil
}
