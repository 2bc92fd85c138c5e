package eventsourcing

import "time"

// RecordedEvent is an event as stored: a monotonically increasing global id,
// its position within its own stream, and the payload/metadata the mapper
// produced.
type RecordedEvent struct {
	EventID       uint64
	StreamID      string
	StreamVersion uint64
	CorrelationID string
	CreatedAt     time.Time
	Type          string
	Data          []byte
}

// AggregateState is the actor's working copy of an aggregate: its identity,
// the number of events applied from the store (Version), any events
// produced by the command currently in flight (Pending), and the opaque
// domain state an AggregateModule owns.
//
// Invariant: Pending is empty whenever the actor is idle and not mid-command.
type AggregateState struct {
	UUID    string
	Version uint64
	Pending []Event
	Domain  any
}

// Snapshot lets an aggregate actor or process manager instance resume
// without replaying its full event history. Data is opaque to the core; the
// owning module is responsible for (de)serializing it.
type Snapshot struct {
	SourceUUID    string
	SourceVersion uint64
	SourceType    string
	Data          []byte
}
