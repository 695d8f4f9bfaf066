package missingframes

import (
	"errors"
	"fmt"
)

// Run phases.
const (
	PhaseWrite  = "write"
	PhaseVerify = "verify"
)

// ErrUnexpectedRank is returned when the reopened dataset is not rank 3.
var ErrUnexpectedRank = errors.New("unexpected dataset rank")

// PhaseError reports a storage failure that aborted a run. Frame is the
// 0-based frame being processed, or -1 outside the frame loop.
type PhaseError struct {
	Phase string
	Op    string
	Frame int
	Err   error
}

func (e *PhaseError) Error() string {
	if e.Frame < 0 {
		return fmt.Sprintf("%s phase: %s: %v", e.Phase, e.Op, e.Err)
	}
	return fmt.Sprintf("%s phase: %s (frame %d): %v", e.Phase, e.Op, e.Frame, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

func writeErr(op string, frame int, err error) error {
	return &PhaseError{Phase: PhaseWrite, Op: op, Frame: frame, Err: err}
}

func verifyErr(op string, frame int, err error) error {
	return &PhaseError{Phase: PhaseVerify, Op: op, Frame: frame, Err: err}
}
