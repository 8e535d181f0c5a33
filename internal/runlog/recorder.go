package runlog

import (
	"context"
	"fmt"
)

// Recorder fans a cycle record out to both sinks. The JSONL line is
// written first: it is the system of record, and a crash between the two
// writes is healed on replay by the store's idempotent insert.
type Recorder struct {
	store *Store
	lines *LineWriter
}

// NewRecorder combines the SQLite index and the JSONL sink.
func NewRecorder(store *Store, lines *LineWriter) *Recorder {
	return &Recorder{store: store, lines: lines}
}

// Append validates the record and writes it to both sinks.
func (r *Recorder) Append(ctx context.Context, rec CycleRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("refusing to append invalid record: %w", err)
	}
	if err := r.lines.Append(rec); err != nil {
		return err
	}
	return r.store.AppendCycle(ctx, rec)
}
