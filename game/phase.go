// game/phase.go
package game

import "errors"

// Phase is the session lifecycle: waiting for players, active, ended.
// Transitions are monotonic; a phase is never re-entered.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseActive
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseActive:
		return "active"
	case PhaseEnded:
		return "ended"
	}
	return "unknown"
}

// ErrTransitionNotAllowed is returned when a phase transition is not allowed.
var ErrTransitionNotAllowed = errors.New("phase transition not allowed")

var allowedTransitions = map[Phase][]Phase{
	PhaseWaiting: {PhaseActive, PhaseEnded},
	PhaseActive:  {PhaseEnded},
	PhaseEnded:   {},
}

// transitionLocked advances the phase, enforcing the monotonic lifecycle.
// Caller holds g.mu.
func (g *Game) transitionLocked(to Phase) error {
	for _, next := range allowedTransitions[g.phase] {
		if next == to {
			g.phase = to
			return nil
		}
	}
	return ErrTransitionNotAllowed
}
