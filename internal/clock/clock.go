// Package clock is the engine's sole source of "now" for lock-duration expiry
// checks (ledger.LockDuration.HasExpired) and swap-start timestamps. A thin
// interface over it, rather than bare time.Now calls scattered through
// internal/swaprunner, is what lets tests advance time deterministically
// instead of racing real wall-clock expiry windows.
package clock

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is the minimal wall-clock surface the engine needs.
type Clock interface {
	Now() time.Time
}

// real wraps benbjohnson/clock's mock-friendly Clock, already an indirect
// dependency of the node's libp2p stack, rather than adding a second timing
// library or hand-rolling a mockable wrapper around time.Now.
type real struct {
	clock.Clock
}

// New returns the real wall clock.
func New() Clock {
	return real{Clock: clock.New()}
}

// NewMock returns a controllable clock for tests: advance it explicitly instead of
// sleeping past real lock-duration windows.
func NewMock() *clock.Mock {
	return clock.NewMock()
}
