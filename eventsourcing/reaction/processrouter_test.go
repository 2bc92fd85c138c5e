package reaction_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eventflow/eventsourcing"
	"eventflow/eventsourcing/reaction"
	"eventflow/eventsourcing/store/memorystore"
)

// orderPlaced/orderShipped correlate to a shipping process manager keyed by
// OrderID; orderShipped also ends the process.
type orderPlaced struct{ OrderID string }

func (*orderPlaced) EventType() string { return "OrderPlaced" }

type orderShipped struct{ OrderID string }

func (*orderShipped) EventType() string { return "OrderShipped" }

type irrelevantEvent struct{}

func (*irrelevantEvent) EventType() string { return "Irrelevant" }

type shippingState struct {
	OrderID string
	Placed  bool
	Shipped bool
}

type markShippedCommand struct{ OrderID string }

func (c markShippedCommand) AggregateIdentity() string { return c.OrderID }

// shippingProcess is a ProcessManagerModule: on OrderPlaced it starts an
// instance and immediately emits a command; on OrderShipped it stops.
type shippingProcess struct{}

func (shippingProcess) New(uuid string) any {
	return &shippingState{OrderID: uuid}
}

func (shippingProcess) Restore(uuid string, data []byte) (any, error) {
	return &shippingState{OrderID: uuid}, nil
}

func (shippingProcess) Interested(evt eventsourcing.Event) (reaction.Interest, bool) {
	switch e := evt.(type) {
	case *orderPlaced:
		return reaction.Interest{Action: reaction.InterestStart, UUID: e.OrderID}, true
	case *orderShipped:
		return reaction.Interest{Action: reaction.InterestStop, UUID: e.OrderID}, true
	default:
		return reaction.Interest{}, false
	}
}

func (shippingProcess) Handle(_ context.Context, state any, evt eventsourcing.Event) (any, []eventsourcing.Command, error) {
	s := state.(*shippingState)
	switch e := evt.(type) {
	case *orderPlaced:
		s.Placed = true
		return s, []eventsourcing.Command{markShippedCommand{OrderID: e.OrderID}}, nil
	case *orderShipped:
		s.Shipped = true
		return s, nil, nil
	}
	return s, nil, nil
}

func (shippingProcess) ApplyEvent(state any, evt eventsourcing.Event) (any, error) {
	return state, nil
}

type recordingDispatcher struct {
	mu       sync.Mutex
	commands []eventsourcing.Command
}

func (d *recordingDispatcher) Dispatch(_ context.Context, cmd eventsourcing.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, cmd)
	return nil
}

func (d *recordingDispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.commands)
}

func newShippingMapper() *eventsourcing.Mapper {
	reg := eventsourcing.NewEventRegistry()
	reg.Register("OrderPlaced", func() eventsourcing.Event { return &orderPlaced{} })
	reg.Register("OrderShipped", func() eventsourcing.Event { return &orderShipped{} })
	reg.Register("Irrelevant", func() eventsourcing.Event { return &irrelevantEvent{} })
	return eventsourcing.NewMapper(reg)
}

// eventIDSequence hands out increasing EventIDs across however many
// deliverEvents calls a test makes, so separate batches never collide the
// way two independently-started-at-1 counters would.
type eventIDSequence struct{ next uint64 }

func (s *eventIDSequence) take() uint64 {
	s.next++
	return s.next
}

func deliverEvents(t *testing.T, ids *eventIDSequence, router eventsourcing.Subscriber, events ...eventsourcing.Event) *fakeAckTarget {
	t.Helper()
	var recorded []eventsourcing.RecordedEvent
	for _, evt := range events {
		rec, err := eventsourcing.ToRecordedEvent(evt, "")
		require.NoError(t, err)
		rec.EventID = ids.take()
		recorded = append(recorded, rec)
	}
	ack := &fakeAckTarget{}
	require.NoError(t, router.Deliver(context.Background(), eventsourcing.EventBatch{Events: recorded, AckTarget: ack}))
	return ack
}

func TestProcessRouter_StartsAndStopsAnInstance(t *testing.T) {
	store := memorystore.New()
	dispatcher := &recordingDispatcher{}
	router := reaction.NewProcessRouter("shipping", shippingProcess{}, store, newShippingMapper(), dispatcher, nil)

	ids := &eventIDSequence{}
	ack := deliverEvents(t, ids, router, &orderPlaced{OrderID: "order-1"})
	require.Equal(t, 1, router.Count())
	require.Equal(t, 1, dispatcher.Count())
	require.Equal(t, []uint64{1}, ack.acked)

	deliverEvents(t, ids, router, &orderShipped{OrderID: "order-1"})
	require.Eventually(t, func() bool {
		return router.Count() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestProcessRouter_IgnoresUnrelatedEventsAndStillAcks(t *testing.T) {
	store := memorystore.New()
	dispatcher := &recordingDispatcher{}
	router := reaction.NewProcessRouter("shipping", shippingProcess{}, store, newShippingMapper(), dispatcher, nil)

	ack := deliverEvents(t, &eventIDSequence{}, router, &irrelevantEvent{})
	require.Equal(t, 0, router.Count())
	require.Equal(t, 0, dispatcher.Count())
	require.Equal(t, []uint64{1}, ack.acked)
}

func TestProcessRouter_DuplicateDeliveryOfAlreadyProcessedEventIsNoop(t *testing.T) {
	store := memorystore.New()
	dispatcher := &recordingDispatcher{}
	router := reaction.NewProcessRouter("shipping", shippingProcess{}, store, newShippingMapper(), dispatcher, nil)

	evt := &orderPlaced{OrderID: "order-2"}
	rec, err := eventsourcing.ToRecordedEvent(evt, "")
	require.NoError(t, err)
	rec.EventID = 5

	ack := &fakeAckTarget{}
	batch := eventsourcing.EventBatch{Events: []eventsourcing.RecordedEvent{rec}, AckTarget: ack}
	require.NoError(t, router.Deliver(context.Background(), batch))
	require.Equal(t, 1, dispatcher.Count())

	// Redelivering the same event_id must not dispatch a second command.
	require.NoError(t, router.Deliver(context.Background(), batch))
	require.Equal(t, 1, dispatcher.Count())
}
