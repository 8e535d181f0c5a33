package scheduler

import "sync/atomic"

// Seq is the monotonic sequence clock for cycle records.
//
// Every cycle is stamped with a strictly increasing number, which keeps
// the run log totally ordered without depending on wall-clock precision.
// On startup the daemon resumes the clock from the highest sequence in
// the store, so ordering survives restarts.
//
// Thread-safety: atomic operations, though the scheduler's single-writer
// design means only one goroutine normally calls Next.
type Seq struct {
	n atomic.Int64
}

// NewSeq creates a sequence clock starting at 0; the first Next is 1.
func NewSeq() *Seq { return &Seq{} }

// NewSeqAt creates a sequence clock resuming from start; the first Next
// is start+1.
func NewSeqAt(start int64) *Seq {
	s := &Seq{}
	s.n.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Seq) Next() int64 { return s.n.Add(1) }

// Current returns the latest issued sequence number.
func (s *Seq) Current() int64 { return s.n.Load() }
