package incident

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a phase change is not allowed.
	// No state is mutated.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrDedupLookupFailed wraps store errors hit while resolving a detection.
	ErrDedupLookupFailed = errors.New("dedup lookup failed")

	// ErrIncidentCreationFailed wraps store errors hit while creating an incident.
	ErrIncidentCreationFailed = errors.New("incident creation failed")

	// ErrPlaybookDegraded marks a playbook that could not be drafted or
	// persisted. It never fails incident creation.
	ErrPlaybookDegraded = errors.New("playbook generation degraded")

	// ErrNotificationFailed marks a failed notification. Logged only.
	ErrNotificationFailed = errors.New("notification failed")

	// ErrNumberAllocationConflict means two incidents received the same
	// number. Atomic allocation must make this impossible; seeing it is an
	// invariant violation.
	ErrNumberAllocationConflict = errors.New("incident number allocation conflict")

	// ErrAlreadyLinked is returned by stores when a detection already has a link.
	ErrAlreadyLinked = errors.New("detection already linked")

	// ErrIncidentClosed is returned by stores when a link targets a Closed
	// incident.
	ErrIncidentClosed = errors.New("incident is closed")

	// ErrStalePhase is returned by stores when the persisted phase no longer
	// matches the phase an update was computed from.
	ErrStalePhase = errors.New("incident phase changed concurrently")

	// ErrNotFound is returned when an incident, task, or detection is missing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTaskStatus is returned for unknown task statuses.
	ErrInvalidTaskStatus = errors.New("invalid task status")
)

// TransitionError describes a rejected phase change.
type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	next, ok := e.From.Next()
	allowed := "none"
	if ok {
		allowed = string(next)
	}
	return fmt.Sprintf("invalid phase transition from %s to %s (allowed: %s)", e.From, e.To, allowed)
}

// Is lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
