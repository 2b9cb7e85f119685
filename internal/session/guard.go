package session

import (
	"errors"
	"sync/atomic"
)

// ErrSubmitRaceIgnored is returned to every submit trigger that lost the race.
// Callers swallow it; it is not a failure.
var ErrSubmitRaceIgnored = errors.New("submit already in progress")

// SubmitGuard lets exactly one trigger move a session into submission. Timer
// expiry, explicit submit and the violation ceiling all share one guard.
type SubmitGuard struct {
	fired atomic.Bool
}

// TryAcquire returns true for the first caller only.
func (g *SubmitGuard) TryAcquire() bool {
	return g.fired.CompareAndSwap(false, true)
}

// Fired reports whether a trigger has already won.
func (g *SubmitGuard) Fired() bool {
	return g.fired.Load()
}
