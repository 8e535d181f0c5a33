// Package clock abstracts time operations for testability.
//
// Production code injects Real(); tests inject a Fake with deterministic
// time control. Anything in this module that would call time.Now,
// time.After, time.NewTicker, or time.Sleep takes a Clock instead, so the
// scheduler's interval ticks and the health-poll backoff can be exercised
// without real waiting.
package clock

import "time"

// Clock is the time source interface shared by the scheduler and the
// service health poller.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0, the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks on C at the given
	// interval. Panics if d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker wraps a periodic timer. Read ticks from C; call Stop to release
// resources. Stop does not close C.
//
// C has capacity 1, matching time.Ticker: if the consumer falls behind,
// ticks are dropped rather than queued.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. No more ticks arrive on C after Stop returns.
func (t *Ticker) Stop() { t.stopFunc() }
