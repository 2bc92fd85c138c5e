package eventsourcing

import (
	"fmt"

	stderrors "errors"
)

// Sentinel error kinds a caller compares against with errors.Is; DomainError
// additionally carries the handler's own reason.
var (
	// ErrUnregisteredCommand is returned when dispatch finds no routing
	// table entry for a command's concrete type.
	ErrUnregisteredCommand = stderrors.New("eventsourcing: unregistered command type")

	// ErrInvalidAggregateIdentity is returned when AggregateIdentity() is
	// empty.
	ErrInvalidAggregateIdentity = stderrors.New("eventsourcing: invalid aggregate identity")

	// ErrAggregateExecutionTimeout is returned when a command handler does
	// not return within its dispatch timeout. The aggregate actor keeps
	// running the handler to completion in the background; the timed-out
	// caller must treat the aggregate's state as indeterminate.
	ErrAggregateExecutionTimeout = stderrors.New("eventsourcing: aggregate execution timed out")

	// ErrWrongExpectedVersion signals an optimistic concurrency clash on
	// append; retryable by the caller after reloading.
	ErrWrongExpectedVersion = stderrors.New("eventsourcing: wrong expected version")

	// ErrStreamNotFound is a control-flow signal from the store, not a
	// user-facing error: it tells the actor to initialize via
	// AggregateModule.New instead of Load.
	ErrStreamNotFound = stderrors.New("eventsourcing: stream not found")

	// ErrSnapshotNotFound is a control-flow signal: start a process manager
	// instance from empty state instead of a restored snapshot.
	ErrSnapshotNotFound = stderrors.New("eventsourcing: snapshot not found")

	// ErrUnknownEventType is fatal to the affected subscription: the
	// mapper has no factory registered for a stored type tag.
	ErrUnknownEventType = stderrors.New("eventsourcing: unknown event type")
)

// DomainError wraps a command handler's own failure reason. No events are
// persisted when a handler returns one.
type DomainError struct {
	Reason error
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("eventsourcing: domain error: %v", e.Reason)
}

func (e *DomainError) Unwrap() error { return e.Reason }

// NewDomainError wraps a handler-level failure so callers can distinguish it
// from routing/infrastructure errors via errors.As.
func NewDomainError(reason error) error {
	return &DomainError{Reason: reason}
}
