package eventsourcing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// EventFactory creates a zero-value instance of a registered event type,
// ready to be populated from a decoded payload.
type EventFactory func() Event

// EventRegistry maps domain event type tags to factories and back.
type EventRegistry struct {
	mu        sync.RWMutex
	factories map[string]EventFactory
}

// NewEventRegistry creates an empty registry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{factories: make(map[string]EventFactory)}
}

// Register associates a domain event's fully-qualified type tag with a
// factory used to reconstruct it on decode.
func (r *EventRegistry) Register(eventType string, factory EventFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[eventType] = factory
}

func (r *EventRegistry) factoryFor(eventType string) (EventFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[eventType]
	return f, ok
}

// Mapper translates between domain event values and RecordedEvent payloads.
// Round-trip contract: Decode(ToRecordedEvent(e, corr)) == e once CreatedAt/
// EventID/StreamVersion are filled in by the store.
type Mapper struct {
	registry *EventRegistry
}

// NewMapper builds a Mapper backed by the given registry.
func NewMapper(registry *EventRegistry) *Mapper {
	return &Mapper{registry: registry}
}

// Encode serializes a domain event into storable (type tag, payload) form.
// The caller fills in stream identity/version/correlation/timestamp once the
// store assigns them; Encode only produces the portable Type/Data pair.
func Encode(evt Event) (eventType string, data []byte, err error) {
	eventType = evt.EventType()
	data, err = json.Marshal(evt)
	if err != nil {
		return "", nil, fmt.Errorf("eventsourcing: encode event %s: %w", eventType, err)
	}
	return eventType, data, nil
}

// Decode reconstructs a domain event from a RecordedEvent, returning
// ErrUnknownEventType when the type tag has no registered factory.
func (m *Mapper) Decode(ctx context.Context, rec RecordedEvent) (Event, error) {
	factory, ok := m.registry.factoryFor(rec.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, rec.Type)
	}
	evt := factory()
	if len(rec.Data) > 0 {
		if err := json.Unmarshal(rec.Data, evt); err != nil {
			return nil, fmt.Errorf("eventsourcing: decode event %s: %w", rec.Type, err)
		}
	}
	return evt, nil
}

// ToRecordedEvent fills a RecordedEvent's portable fields from a domain
// event; stream identity/version/id/timestamp are assigned by the store on
// append, so this only sets Type/Data/CorrelationID and stamps CreatedAt as
// a default the store may override.
func ToRecordedEvent(evt Event, correlationID string) (RecordedEvent, error) {
	eventType, data, err := Encode(evt)
	if err != nil {
		return RecordedEvent{}, err
	}
	return RecordedEvent{
		Type:          eventType,
		Data:          data,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
	}, nil
}

// EncodeSnapshotData serializes an aggregate's or process instance's domain
// state into the opaque payload a Snapshot carries.
func EncodeSnapshotData(domain any) ([]byte, error) {
	data, err := json.Marshal(domain)
	if err != nil {
		return nil, fmt.Errorf("eventsourcing: encode snapshot: %w", err)
	}
	return data, nil
}
