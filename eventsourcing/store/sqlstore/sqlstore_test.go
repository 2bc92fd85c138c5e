package sqlstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"eventflow/eventsourcing"
	"eventflow/eventsourcing/store/sqlstore"
)

// newTestStore gives each test its own named in-memory database: sqlite's
// cache=shared mode keeps a memory database alive and visible to every
// connection using the same name, so two tests sharing one name would see
// each other's streams.
func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	st, err := sqlstore.New(sqlstore.Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStore_AppendAndReadStreamForward(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	_, err := st.ReadStreamForward(ctx, "stream-1", 0, 10)
	require.ErrorIs(t, err, eventsourcing.ErrStreamNotFound)

	events := []eventsourcing.RecordedEvent{{Type: "A", Data: []byte(`{"n":1}`)}, {Type: "A", Data: []byte(`{"n":2}`)}}
	require.NoError(t, st.AppendToStream(ctx, "stream-1", 0, events))

	got, err := st.ReadStreamForward(ctx, "stream-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint64(1), got[0].StreamVersion)
	require.Equal(t, uint64(2), got[1].StreamVersion)
}

func TestStore_AppendWithWrongExpectedVersionFails(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.AppendToStream(ctx, "stream-1", 0, []eventsourcing.RecordedEvent{{Type: "A"}}))
	err := st.AppendToStream(ctx, "stream-1", 0, []eventsourcing.RecordedEvent{{Type: "A"}})
	require.ErrorIs(t, err, eventsourcing.ErrWrongExpectedVersion)
}

func TestStore_SnapshotUpsert(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	snap := eventsourcing.Snapshot{SourceUUID: "agg-1", SourceVersion: 1, SourceType: "Widget", Data: []byte("{}")}
	require.NoError(t, st.RecordSnapshot(ctx, snap))

	snap.SourceVersion = 2
	snap.Data = []byte(`{"v":2}`)
	require.NoError(t, st.RecordSnapshot(ctx, snap))

	got, err := st.ReadSnapshot(ctx, "agg-1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), got.SourceVersion)
	require.Equal(t, `{"v":2}`, string(got.Data))
}

func TestStore_OutboxCapturesEventsInSameTransactionAsAppend(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.EnableOutbox(ctx))

	require.NoError(t, st.AppendToStream(ctx, "stream-1", 0, []eventsourcing.RecordedEvent{{Type: "A", Data: []byte("1")}}))

	pending, err := st.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "stream-1", pending[0].StreamID)

	require.NoError(t, st.MarkPublished(ctx, pending[0].EventID))

	pending, err = st.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}
