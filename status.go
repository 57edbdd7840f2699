package peerroll

import "fmt"

// Status represents a small finite state machine tracked per unit, per round.
// It has the following transitions:
// Idle      → Waiting
// Waiting   → Running
// Waiting   → Idle
// Running   → Completed
// Running   → Failed
// Running   → Waiting
// Running   → Idle
// Completed → Idle
// Failed    → Idle
//
// The meaning of each state is described above the state's definition below.
type Status string

const (
	// StatusIdle is the state of a unit that is not participating in the
	// current round. It is also the implicit state of a unit that has
	// published nothing at all.
	StatusIdle Status = "idle"
	// StatusWaiting is the state of a unit that has requested the operation
	// and is queueing for its turn.
	StatusWaiting Status = "waiting"
	// StatusRunning is the state of a unit that believes it holds the turn
	// and is executing the operation. At steady state at most one unit
	// fleet-wide is in this state per round.
	StatusRunning Status = "running"
	// StatusCompleted is the state of a unit whose operation returned
	// successfully. It is terminal until a new round begins.
	StatusCompleted Status = "completed"
	// StatusFailed is the state of a unit whose operation returned an error
	// or exhausted its retry budget. It is terminal until a new round begins.
	StatusFailed Status = "failed"
)

var validTransitions = map[Status][]Status{
	StatusIdle: []Status{
		StatusWaiting,
	},
	StatusWaiting: []Status{
		// Waiting → Waiting covers resynchronizing onto a new round token
		// without giving up the queue position.
		StatusWaiting,
		StatusRunning,
		StatusIdle,
	},
	StatusRunning: []Status{
		StatusCompleted,
		StatusFailed,
		// Running → Waiting is the retry path: the operation asked to be
		// rescheduled, so the unit rejoins the queue.
		StatusWaiting,
		StatusIdle,
	},
	StatusCompleted: []Status{
		StatusIdle,
	},
	StatusFailed: []Status{
		StatusIdle,
	},
}

func (s *Status) canTransitionTo(status Status) error {
	validTargets := validTransitions[*s]

	for _, target := range validTargets {
		if target == status {
			return nil
		}
	}
	return fmt.Errorf("unable to transition from %s to %s", *s, status)
}

func (s *Status) transitionTo(status Status) error {
	if err := s.canTransitionTo(status); err != nil {
		return err
	}
	*s = status
	return nil
}

// active reports whether the status represents an outstanding claim on the
// current round, i.e. the unit is either queueing or holding the turn.
func (s Status) active() bool {
	return s == StatusWaiting || s == StatusRunning
}

// terminal reports whether the status is an end state for the round.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus converts the wire representation of a status back into a
// Status. It rejects anything that is not one of the five published states so
// that a peer running a newer library version degrades to invisible rather
// than corrupting the view.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusIdle, StatusWaiting, StatusRunning, StatusCompleted, StatusFailed:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}
