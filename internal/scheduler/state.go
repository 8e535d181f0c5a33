package scheduler

// State is the scheduler's position in the cycle state machine:
//
//	Idle → Fetching → (NoChange | Syncing → Restarting) → Idle
//
// Every transition happens on the single Run goroutine. Other goroutines
// only ever read the state (to decide whether a trigger is droppable),
// which is why it lives in an atomic.
type State int32

const (
	// StateIdle: waiting for the next tick or trigger. Entering Idle
	// clears all in-progress cycle state.
	StateIdle State = iota

	// StateFetching: asking the source for the latest revision.
	StateFetching

	// StateSyncing: materializing dependencies for the new revision.
	StateSyncing

	// StateRestarting: running the service restart sequence.
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateSyncing:
		return "syncing"
	case StateRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}
