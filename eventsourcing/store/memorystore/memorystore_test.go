package memorystore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"eventflow/eventsourcing"
	"eventflow/eventsourcing/store/memorystore"
)

func TestStore_AppendAndReadStreamForward(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()

	_, err := st.ReadStreamForward(ctx, "stream-1", 0, 10)
	require.ErrorIs(t, err, eventsourcing.ErrStreamNotFound)

	events := []eventsourcing.RecordedEvent{{Type: "A", Data: []byte("1")}, {Type: "A", Data: []byte("2")}}
	require.NoError(t, st.AppendToStream(ctx, "stream-1", 0, events))

	got, err := st.ReadStreamForward(ctx, "stream-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint64(1), got[0].StreamVersion)
	require.Equal(t, uint64(2), got[1].StreamVersion)
	require.NotZero(t, got[0].EventID)
	require.Less(t, got[0].EventID, got[1].EventID)
}

func TestStore_AppendWithWrongExpectedVersionFails(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()

	require.NoError(t, st.AppendToStream(ctx, "stream-1", 0, []eventsourcing.RecordedEvent{{Type: "A"}}))

	err := st.AppendToStream(ctx, "stream-1", 0, []eventsourcing.RecordedEvent{{Type: "A"}})
	require.ErrorIs(t, err, eventsourcing.ErrWrongExpectedVersion)
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()

	_, err := st.ReadSnapshot(ctx, "agg-1")
	require.ErrorIs(t, err, eventsourcing.ErrSnapshotNotFound)

	snap := eventsourcing.Snapshot{SourceUUID: "agg-1", SourceVersion: 3, SourceType: "Widget", Data: []byte("{}")}
	require.NoError(t, st.RecordSnapshot(ctx, snap))

	got, err := st.ReadSnapshot(ctx, "agg-1")
	require.NoError(t, err)
	require.Equal(t, snap, got)
}

func TestStore_SubscribeAllReplaysBacklogThenFollowsNewAppends(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	require.NoError(t, st.AppendToStream(ctx, "stream-1", 0, []eventsourcing.RecordedEvent{{Type: "A"}}))

	var delivered []eventsourcing.RecordedEvent
	sub, err := st.SubscribeAll(ctx, eventsourcing.SubscriberFunc(func(_ context.Context, batch eventsourcing.EventBatch) error {
		delivered = append(delivered, batch.Events...)
		return nil
	}))
	require.NoError(t, err)
	require.Len(t, delivered, 1)

	require.NoError(t, st.AppendToStream(ctx, "stream-2", 0, []eventsourcing.RecordedEvent{{Type: "B"}}))
	require.Len(t, delivered, 2)

	require.NoError(t, sub.Close())
	require.NoError(t, st.AppendToStream(ctx, "stream-3", 0, []eventsourcing.RecordedEvent{{Type: "C"}}))
	require.Len(t, delivered, 2)
}
