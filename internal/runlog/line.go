package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// LineWriter appends one JSON object per cycle to a plain text file,
// the human-greppable persisted form of the run log. Key order is fixed
// by the CycleRecord struct, so both grep and jq work predictably.
//
// The file is opened O_APPEND and each line is fsynced after writing.
// Nothing in the daemon ever reads, rewrites, or truncates it.
type LineWriter struct {
	mu   sync.Mutex
	file *os.File
}

// OpenLineWriter opens (or creates) the JSONL run log at path.
func OpenLineWriter(path string) (*LineWriter, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	return &LineWriter{file: file}, nil
}

// Append writes the record as a single JSON line and fsyncs.
func (w *LineWriter) Append(rec CycleRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal cycle %s: %w", rec.ID, err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("append cycle %s: %w", rec.ID, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync run log: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
