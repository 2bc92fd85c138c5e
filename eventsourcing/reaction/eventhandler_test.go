package reaction_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"eventflow/eventsourcing"
	"eventflow/eventsourcing/reaction"
)

type widgetMade struct{ Count int }

func (*widgetMade) EventType() string { return "WidgetMade" }

func newWidgetMapper() *eventsourcing.Mapper {
	reg := eventsourcing.NewEventRegistry()
	reg.Register("WidgetMade", func() eventsourcing.Event { return &widgetMade{} })
	return eventsourcing.NewMapper(reg)
}

func recordedBatch(t *testing.T, ids []uint64) []eventsourcing.RecordedEvent {
	t.Helper()
	var out []eventsourcing.RecordedEvent
	for _, id := range ids {
		rec, err := eventsourcing.ToRecordedEvent(&widgetMade{Count: int(id)}, "")
		require.NoError(t, err)
		rec.EventID = id
		out = append(out, rec)
	}
	return out
}

type fakeAckTarget struct {
	acked []uint64
}

func (f *fakeAckTarget) Ack(_ context.Context, lastProcessedEventID uint64) error {
	f.acked = append(f.acked, lastProcessedEventID)
	return nil
}

func TestEventHandlerRuntime_DeliversInOrderAndAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	var seen []uint64
	module := reaction.HandlerModuleFunc(func(_ context.Context, evt eventsourcing.Event, meta reaction.EventMetadata) error {
		seen = append(seen, meta.EventID)
		return nil
	})

	cursors := reaction.NewMemoryCursorStore()
	runtime, err := reaction.NewEventHandlerRuntime("widget-projector", module, newWidgetMapper(), cursors, nil)
	require.NoError(t, err)

	ack := &fakeAckTarget{}
	batch := eventsourcing.EventBatch{Events: recordedBatch(t, []uint64{1, 2, 3}), AckTarget: ack}
	require.NoError(t, runtime.Deliver(ctx, batch))

	require.Equal(t, []uint64{1, 2, 3}, seen)
	require.Equal(t, uint64(3), runtime.LastSeenEventID())
	require.Equal(t, []uint64{3}, ack.acked)

	persisted, err := cursors.LoadCursor(ctx, "widget-projector")
	require.NoError(t, err)
	require.Equal(t, uint64(3), persisted)
}

func TestEventHandlerRuntime_SkipsAlreadySeenEventsWithoutRedelivering(t *testing.T) {
	ctx := context.Background()
	var seen []uint64
	module := reaction.HandlerModuleFunc(func(_ context.Context, evt eventsourcing.Event, meta reaction.EventMetadata) error {
		seen = append(seen, meta.EventID)
		return nil
	})

	cursors := reaction.NewMemoryCursorStore()
	require.NoError(t, cursors.SaveCursor(ctx, "widget-projector", 2))

	runtime, err := reaction.NewEventHandlerRuntime("widget-projector", module, newWidgetMapper(), cursors, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2), runtime.LastSeenEventID())

	ack := &fakeAckTarget{}
	batch := eventsourcing.EventBatch{Events: recordedBatch(t, []uint64{1, 2, 3, 4}), AckTarget: ack}
	require.NoError(t, runtime.Deliver(ctx, batch))

	require.Equal(t, []uint64{3, 4}, seen)
	require.Equal(t, uint64(4), runtime.LastSeenEventID())
}

func TestEventHandlerRuntime_HaltsOnHandlerErrorWithoutAdvancingCursor(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	module := reaction.HandlerModuleFunc(func(_ context.Context, evt eventsourcing.Event, meta reaction.EventMetadata) error {
		if meta.EventID == 2 {
			return boom
		}
		return nil
	})

	cursors := reaction.NewMemoryCursorStore()
	runtime, err := reaction.NewEventHandlerRuntime("widget-projector", module, newWidgetMapper(), cursors, nil)
	require.NoError(t, err)

	ack := &fakeAckTarget{}
	batch := eventsourcing.EventBatch{Events: recordedBatch(t, []uint64{1, 2, 3}), AckTarget: ack}
	err = runtime.Deliver(ctx, batch)
	require.ErrorIs(t, err, boom)

	require.Equal(t, uint64(1), runtime.LastSeenEventID())

	// A second delivery attempt (e.g. a retried redelivery) stays halted.
	err = runtime.Deliver(ctx, eventsourcing.EventBatch{Events: recordedBatch(t, []uint64{4}), AckTarget: ack})
	require.ErrorIs(t, err, boom)
}
