package peerroll

import (
	"context"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// Operation is the caller-supplied callback that performs the actual
// disruptive work. It runs synchronously on the host's event loop while this
// unit holds the turn; it may take arbitrary wall-clock time, and no timeout
// is imposed here. A caller wanting one wraps the context.
//
// Because mutual exclusion is eventual rather than absolute, the operation
// must be safe to retry and tolerant of a rare overlapping straggler.
type Operation func(ctx context.Context) error

// ErrRetryLater may be returned (or wrapped) by an Operation to signal that
// it could not proceed for reasons outside its control and wants to give up
// the turn and rejoin the queue, rather than be recorded as failed.
var ErrRetryLater = errors.New("operation wants to retry later")

// Outcome records the result of one local execution of the operation.
type Outcome struct {
	Round    string
	Attempt  int
	Status   Status
	Err      error
	Duration time.Duration
}

// runOperation invokes op and folds whatever happens into an Outcome. The
// callback's failure is captured, never re-raised: a panicking or erroring
// operation becomes a failed status on this unit and the round moves on to
// the next eligible peer. Status is one of Completed, Failed, or Waiting
// (the retry-later case).
func runOperation(ctx context.Context, l log15.Logger, clk clock.Clock, op Operation, round string, attempt int) Outcome {
	start := clk.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("operation panicked: %v", r)
			}
		}()
		return op(ctx)
	}()

	out := Outcome{
		Round:    round,
		Attempt:  attempt,
		Err:      err,
		Duration: clk.Since(start),
	}
	switch {
	case err == nil:
		out.Status = StatusCompleted
		l.Info("operation completed", "round", round, "attempt", attempt, "duration", out.Duration)
	case errors.Cause(err) == ErrRetryLater:
		out.Status = StatusWaiting
		l.Info("operation asked to retry later", "round", round, "attempt", attempt, "err", err)
	default:
		out.Status = StatusFailed
		l.Error("operation failed", "round", round, "attempt", attempt, "err", err)
	}
	return out
}
