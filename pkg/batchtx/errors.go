package batchtx

import (
	"errors"
	"fmt"
)

var (
	// ErrObserverFailed is wrapped by every CommitError
	ErrObserverFailed = errors.New("observer failed during simulated commit")
	// ErrUnpairedNotification is returned in strict mode when a completing
	// notification arrives without its preparing notification
	ErrUnpairedNotification = errors.New("completing notification without preparing notification")
	// ErrAccumulatorClosed is returned by notifications after Close
	ErrAccumulatorClosed = errors.New("accumulator is closed")
)

// Phase names the observer hook that was running
type Phase string

const (
	PhaseBeforeCommit Phase = "before_commit"
	PhaseAfterCommit  Phase = "after_commit"
)

// CommitError reports an observer failure. The batch it was replaying has
// been cleared and observers after Observer were not notified.
type CommitError struct {
	CommitID     string
	Observer     int    // index in registration order
	ObserverType string // dynamic type of the observer
	Phase        Phase
	Cause        error
}

// Error implements the error interface.
func (e *CommitError) Error() string {
	return fmt.Sprintf("simulated commit %s: observer %d (%s) %s: %v",
		e.CommitID, e.Observer, e.ObserverType, e.Phase, e.Cause)
}

// Unwrap exposes both the sentinel and the observer's own error.
func (e *CommitError) Unwrap() []error {
	return []error{ErrObserverFailed, e.Cause}
}

// IsObserverFailure reports whether err came from a failing observer
func IsObserverFailure(err error) bool {
	return errors.Is(err, ErrObserverFailed)
}
