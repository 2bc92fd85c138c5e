package eventsourcing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"eventflow/eventsourcing"
	"eventflow/eventsourcing/store/memorystore"
)

func TestEventHistory_PageDecodesEventsAndSignalsMore(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	mapper := newTestMapper()

	require.NoError(t, st.AppendToStream(ctx, "c-1", 0, mustRecord(t, mapper, &counterOpened{})))
	require.NoError(t, st.AppendToStream(ctx, "c-1", 1, mustRecord(t, mapper, &counterIncremented{By: 2}, &counterIncremented{By: 3})))

	history := eventsourcing.NewEventHistory(st, mapper)

	page, err := history.Page(ctx, "c-1", 0, 2)
	require.NoError(t, err)
	require.True(t, page.HasMore)
	require.Len(t, page.Entries, 2)
	require.Equal(t, "CounterOpened", page.Entries[0].Event.EventType())
	require.Equal(t, uint64(1), page.Entries[0].StreamVersion)

	page2, err := history.Page(ctx, "c-1", page.Entries[len(page.Entries)-1].StreamVersion, 2)
	require.NoError(t, err)
	require.False(t, page2.HasMore)
	require.Len(t, page2.Entries, 1)
	require.Equal(t, "CounterIncremented", page2.Entries[0].Event.EventType())
}

func mustRecord(t *testing.T, mapper *eventsourcing.Mapper, events ...eventsourcing.Event) []eventsourcing.RecordedEvent {
	t.Helper()
	var out []eventsourcing.RecordedEvent
	for _, evt := range events {
		rec, err := eventsourcing.ToRecordedEvent(evt, "")
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}
