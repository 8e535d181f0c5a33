package runlog

import (
	"context"
	"fmt"
	"time"
)

// AppendCycle inserts a cycle record and its per-service outcomes in a
// single transaction. Either everything is written or nothing is; a
// crash mid-append never leaves a cycle without its service rows.
//
// Uses ON CONFLICT(id) DO NOTHING for idempotency: re-appending the same
// record (e.g. after a crash between the two sinks) is silently ignored.
func (s *Store) AppendCycle(ctx context.Context, rec CycleRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append cycle: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO cycles
		(id, seq, timestamp, old_revision, new_revision, action, outcome, failure_stage, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.Seq,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		string(rec.OldRevision),
		string(rec.NewRevision),
		string(rec.Action),
		string(rec.Outcome),
		string(rec.FailureStage),
		rec.Reason,
	)
	if err != nil {
		return fmt.Errorf("append cycle %s: %w", rec.ID, err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("append cycle %s: rows affected: %w", rec.ID, err)
	}
	if inserted == 0 {
		// Already recorded; service rows were written with it.
		return nil
	}

	for position, svc := range rec.Services {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO service_outcomes
			(cycle_id, position, service, status, reason, attempts)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			rec.ID,
			position,
			svc.Service,
			string(svc.Status),
			svc.Reason,
			svc.Attempts,
		); err != nil {
			return fmt.Errorf("append cycle %s: service %s: %w", rec.ID, svc.Service, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append cycle %s: commit: %w", rec.ID, err)
	}
	return nil
}
