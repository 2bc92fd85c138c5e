package eventsourcing

import (
	"context"
	"time"
)

// EventHistoryPage is one page of an aggregate's recorded history, decoded
// back into domain events alongside their stream position.
type EventHistoryPage struct {
	UUID    string
	Entries []EventHistoryEntry
	// HasMore is true when maxCount events were returned and a further
	// call with FromVersion set to the last entry's StreamVersion may
	// return more.
	HasMore bool
}

// EventHistoryEntry pairs a decoded domain event with the stream metadata
// it was recorded under.
type EventHistoryEntry struct {
	Event         Event
	StreamVersion uint64
	EventID       uint64
	CorrelationID string
	CreatedAt     time.Time
}

// EventHistory is a read-only, paginated view over a single aggregate's
// stream, for UIs and audit tooling that want to show "what happened" to an
// aggregate without going through a full Load/rebuild.
type EventHistory struct {
	store  Store
	mapper *Mapper
}

// NewEventHistory builds an EventHistory reader backed by store and mapper.
func NewEventHistory(store Store, mapper *Mapper) *EventHistory {
	return &EventHistory{store: store, mapper: mapper}
}

// Page reads up to maxCount events from uuid's stream starting strictly
// after fromVersion, decoding each into its domain event.
func (h *EventHistory) Page(ctx context.Context, uuid string, fromVersion uint64, maxCount int) (EventHistoryPage, error) {
	records, err := h.store.ReadStreamForward(ctx, uuid, fromVersion, maxCount)
	if err != nil {
		return EventHistoryPage{}, err
	}

	page := EventHistoryPage{UUID: uuid, HasMore: len(records) == maxCount}
	for _, rec := range records {
		evt, err := h.mapper.Decode(ctx, rec)
		if err != nil {
			return EventHistoryPage{}, err
		}
		page.Entries = append(page.Entries, EventHistoryEntry{
			Event:         evt,
			StreamVersion: rec.StreamVersion,
			EventID:       rec.EventID,
			CorrelationID: rec.CorrelationID,
			CreatedAt:     rec.CreatedAt,
		})
	}
	return page, nil
}
