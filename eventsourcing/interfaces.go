// Package eventsourcing implements the core runtime for a CQRS/event-sourced
// domain system: a command dispatch pipeline, a per-aggregate actor that
// rebuilds state from an event stream and appends new events under
// optimistic concurrency, and the collaborator interfaces an external event
// store, command handler, and middleware chain must satisfy.
package eventsourcing

import "context"

// Command is an intent to change the state of exactly one aggregate.
// Concrete command types are plain structs; AggregateIdentity extracts the
// target aggregate's identity without requiring reflection-friendly tags.
type Command interface {
	// AggregateIdentity returns the UUID of the aggregate this command
	// targets. An empty string signals a missing/invalid identity.
	AggregateIdentity() string
}

// Event is an immutable domain fact produced by a command handler.
type Event interface {
	// EventType returns the fully-qualified domain type name used as the
	// wire tag for this event (see Mapper).
	EventType() string
}

// CommandHandler executes a command against the current aggregate state and
// returns the new state, whose Pending events hold what occurred during the
// call. It MUST be pure with respect to external state: no store calls, no
// I/O, no side effects beyond the returned state and events.
type CommandHandler interface {
	Handle(ctx context.Context, state *AggregateState, cmd Command) (*AggregateState, error)
}

// CommandHandlerFunc adapts a plain function to CommandHandler.
type CommandHandlerFunc func(ctx context.Context, state *AggregateState, cmd Command) (*AggregateState, error)

func (f CommandHandlerFunc) Handle(ctx context.Context, state *AggregateState, cmd Command) (*AggregateState, error) {
	return f(ctx, state, cmd)
}

// AggregateModule is the per-aggregate-type collaborator the registry and
// actor use to create and rebuild domain state. Domain state is typed `any`
// here (it is opaque to the runtime); a concrete aggregate module wraps
// its own typed state behind this.
type AggregateModule interface {
	// New returns the zero-value domain state for a brand-new aggregate.
	New(uuid string) any

	// Load rebuilds domain state by applying events in order, as read from
	// the store. Called once on actor start when the stream already exists
	// and no snapshot was found.
	Load(uuid string, events []Event) (any, error)

	// Restore decodes a snapshot's opaque payload back into typed domain
	// state. Called once on actor start in place of New/Load when a
	// snapshot exists; the actor then replays only the events recorded
	// after the snapshot's version via ApplyEvent.
	Restore(uuid string, data []byte) (any, error)

	// ApplyEvent folds a single event into domain state. The actor calls it
	// only during start, to catch a state restored from a snapshot up to
	// the head of the stream; it does not call it when committing, since
	// the state the handler returns already reflects the new events.
	ApplyEvent(state any, evt Event) (any, error)
}

// Middleware wraps a single dispatch call. Implementations observe the
// command before and the result after, and may short-circuit by returning an
// error without calling next.
type Middleware interface {
	Handle(ctx context.Context, cmd Command, next DispatchFunc) error
}

// DispatchFunc is the next link in a middleware chain.
type DispatchFunc func(ctx context.Context, cmd Command) error

// MiddlewareFunc adapts a plain function to Middleware.
type MiddlewareFunc func(ctx context.Context, cmd Command, next DispatchFunc) error

func (f MiddlewareFunc) Handle(ctx context.Context, cmd Command, next DispatchFunc) error {
	return f(ctx, cmd, next)
}

// CommandTracer records per-dispatch timing and outcome; an optional
// collaborator of Router for observability.
type CommandTracer interface {
	Trace(ctx context.Context, commandType string, elapsedNanos int64, err error)
}
