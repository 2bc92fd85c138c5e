// Package reaction implements the event-reaction half of the runtime: the
// Event Handler Runtime (ordered, deduplicated delivery to a user handler)
// and the Process Router / Process Manager Instance pair (correlated state
// machines that react to events by dispatching further commands).
package reaction

import (
	"context"

	"eventflow/eventsourcing"
)

// EventMetadata is the portion of a RecordedEvent a handler needs without
// depending on the storage-facing type directly.
type EventMetadata struct {
	EventID       uint64
	StreamID      string
	StreamVersion uint64
	CorrelationID string
}

// HandlerModule is the user collaborator an Event Handler Runtime drives.
// HandleEvent MUST ignore event types it does not recognize and return nil,
// not an error, so the runtime can still acknowledge them.
type HandlerModule interface {
	HandleEvent(ctx context.Context, evt eventsourcing.Event, meta EventMetadata) error
}

// HandlerModuleFunc adapts a function to HandlerModule.
type HandlerModuleFunc func(ctx context.Context, evt eventsourcing.Event, meta EventMetadata) error

func (f HandlerModuleFunc) HandleEvent(ctx context.Context, evt eventsourcing.Event, meta EventMetadata) error {
	return f(ctx, evt, meta)
}

// Interest is the routing decision a ProcessManagerModule makes for one
// incoming event.
type Interest struct {
	Action InterestAction
	UUID   string
}

// InterestAction names what a process manager module wants done with an
// event it was asked about.
type InterestAction int

const (
	// InterestIgnore means the event does not correlate to any instance;
	// the router acknowledges it immediately without routing.
	InterestIgnore InterestAction = iota
	// InterestStart means ensure an instance keyed by UUID exists, then
	// route the event to it.
	InterestStart
	// InterestContinue means route to the existing instance keyed by
	// UUID; if none is live, recreate it from snapshot or empty state.
	InterestContinue
	// InterestStop means route the event, then terminate the instance
	// once it acknowledges.
	InterestStop
)

// CommandDispatcher is the Router, viewed narrowly: the one capability a
// Process Manager Instance needs to re-enter the command pipeline.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, cmd eventsourcing.Command) error
}

// ProcessManagerModule is the user collaborator a Process Router/Instance
// pair drives.
type ProcessManagerModule interface {
	// New returns zero-value domain state for a brand-new instance.
	New(uuid string) any

	// Restore decodes a snapshot payload back into typed domain state,
	// used instead of New when a snapshot exists for this instance.
	Restore(uuid string, data []byte) (any, error)

	// Interested inspects an event and decides whether/how it correlates
	// to a process instance.
	Interested(evt eventsourcing.Event) (Interest, bool)

	// Handle applies evt to state and returns the new state along with
	// any commands the instance wants dispatched as a result.
	Handle(ctx context.Context, state any, evt eventsourcing.Event) (newState any, commands []eventsourcing.Command, err error)

	// ApplyEvent folds a single event into domain state without
	// producing commands. ProcessRouter and its instances do not call it:
	// a restored instance resumes from its snapshot's event id without
	// replaying events.
	ApplyEvent(state any, evt eventsourcing.Event) (any, error)
}
