package reaction

import (
	"context"
	"sync"

	"eventflow/eventsourcing"
	"eventflow/logging"
)

// EventHandlerRuntime subscribes to a store's global event stream and feeds
// events to a user HandlerModule in strict event_id order, deduplicating
// redelivery via a persisted last-seen cursor. One runtime owns one
// subscription identity (Name).
type EventHandlerRuntime struct {
	name    string
	module  HandlerModule
	mapper  *eventsourcing.Mapper
	cursors CursorStore
	logger  logging.ILogger

	mu        sync.Mutex
	lastSeen  uint64
	halted    bool
	haltedErr error
}

// CursorStore persists an Event Handler Runtime's last-seen cursor by name so
// a restarted runtime resumes without replaying from the beginning.
// ProcessRouter does not use it; process instances resume from snapshots.
type CursorStore interface {
	LoadCursor(ctx context.Context, name string) (uint64, error)
	SaveCursor(ctx context.Context, name string, lastSeenEventID uint64) error
}

// NewEventHandlerRuntime builds a runtime for name/module, backed by mapper
// for event decoding and cursors for dedup-surviving restarts.
func NewEventHandlerRuntime(name string, module HandlerModule, mapper *eventsourcing.Mapper, cursors CursorStore, logger logging.ILogger) (*EventHandlerRuntime, error) {
	r := &EventHandlerRuntime{
		name:    name,
		module:  module,
		mapper:  mapper,
		cursors: cursors,
		logger:  logger,
	}
	last, err := cursors.LoadCursor(context.Background(), name)
	if err != nil {
		return nil, err
	}
	r.lastSeen = last
	return r, nil
}

// Deliver implements eventsourcing.Subscriber: it is the batch callback the
// store invokes for this runtime's subscription.
func (r *EventHandlerRuntime) Deliver(ctx context.Context, batch eventsourcing.EventBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.halted {
		return r.haltedErr
	}

	highestAcked := r.lastSeen
	for _, rec := range batch.Events {
		if rec.EventID <= r.lastSeen {
			highestAcked = rec.EventID
			continue
		}

		evt, err := r.mapper.Decode(ctx, rec)
		if err != nil {
			r.halt(err)
			return err
		}

		meta := EventMetadata{
			EventID:       rec.EventID,
			StreamID:      rec.StreamID,
			StreamVersion: rec.StreamVersion,
			CorrelationID: rec.CorrelationID,
		}
		if err := r.module.HandleEvent(ctx, evt, meta); err != nil {
			r.halt(err)
			return err
		}

		r.lastSeen = rec.EventID
		highestAcked = rec.EventID
		if err := r.cursors.SaveCursor(ctx, r.name, r.lastSeen); err != nil {
			r.halt(err)
			return err
		}
	}

	if highestAcked > 0 {
		if err := batch.AckTarget.Ack(ctx, highestAcked); err != nil {
			return err
		}
	}
	return nil
}

// halt stops the runtime from processing further batches. The subscription
// that delivers to this runtime is expected to observe the returned error
// and stop redelivering; a halted runtime does not advance its cursor past
// the failure.
func (r *EventHandlerRuntime) halt(err error) {
	r.halted = true
	r.haltedErr = err
	if r.logger != nil {
		r.logger.Error(context.Background(), "event handler runtime halted",
			logging.String("name", r.name), logging.Error(err))
	}
}

// LastSeenEventID returns the runtime's current dedup cursor, for tests and
// diagnostics.
func (r *EventHandlerRuntime) LastSeenEventID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeen
}
