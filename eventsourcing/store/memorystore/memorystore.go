// Package memorystore implements eventsourcing.Store entirely in memory: an
// append-only per-stream log, a global ordered feed, and a snapshot table.
// It is meant for tests and for small single-process hosts, not durability
// across restarts.
package memorystore

import (
	"context"
	"sort"
	"sync"

	"eventflow/codegen/snowflake"
	"eventflow/eventsourcing"
)

// Store is an in-memory eventsourcing.Store. Zero value is not usable; use
// New.
type Store struct {
	mu sync.Mutex

	streams   map[string][]eventsourcing.RecordedEvent
	snapshots map[string]eventsourcing.Snapshot
	ids       *snowflake.Generator

	subsMu      sync.Mutex
	subscribers map[*subscription]struct{}
}

// New builds an empty in-memory store.
func New() *Store {
	gen, _ := snowflake.NewGenerator(snowflake.DefaultDatacenterID, snowflake.DefaultWorkerID)
	return &Store{
		streams:     make(map[string][]eventsourcing.RecordedEvent),
		snapshots:   make(map[string]eventsourcing.Snapshot),
		ids:         gen,
		subscribers: make(map[*subscription]struct{}),
	}
}

// ReadStreamForward implements eventsourcing.Store.
func (s *Store) ReadStreamForward(_ context.Context, streamID string, fromVersion uint64, maxCount int) ([]eventsourcing.RecordedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, ok := s.streams[streamID]
	if !ok {
		return nil, eventsourcing.ErrStreamNotFound
	}

	var out []eventsourcing.RecordedEvent
	for _, evt := range events {
		if evt.StreamVersion <= fromVersion {
			continue
		}
		out = append(out, evt)
		if len(out) >= maxCount {
			break
		}
	}
	return out, nil
}

// AppendToStream implements eventsourcing.Store.
func (s *Store) AppendToStream(_ context.Context, streamID string, expectedVersion uint64, events []eventsourcing.RecordedEvent) error {
	s.mu.Lock()
	current := uint64(len(s.streams[streamID]))
	if current != expectedVersion {
		s.mu.Unlock()
		return eventsourcing.ErrWrongExpectedVersion
	}

	appended := make([]eventsourcing.RecordedEvent, 0, len(events))
	for i, evt := range events {
		evt.StreamID = streamID
		evt.StreamVersion = expectedVersion + uint64(i) + 1
		evt.EventID = uint64(s.ids.Generate())
		s.streams[streamID] = append(s.streams[streamID], evt)
		appended = append(appended, evt)
	}
	s.mu.Unlock()

	s.broadcast(appended)
	return nil
}

// ReadSnapshot implements eventsourcing.Store.
func (s *Store) ReadSnapshot(_ context.Context, sourceUUID string) (eventsourcing.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[sourceUUID]
	if !ok {
		return eventsourcing.Snapshot{}, eventsourcing.ErrSnapshotNotFound
	}
	return snap, nil
}

// RecordSnapshot implements eventsourcing.Store.
func (s *Store) RecordSnapshot(_ context.Context, snap eventsourcing.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.SourceUUID] = snap
	return nil
}

// SubscribeAll implements eventsourcing.Store: it registers subscriber
// against every future append, and immediately replays whatever events are
// already on record so a late subscriber still observes the full history.
func (s *Store) SubscribeAll(ctx context.Context, subscriber eventsourcing.Subscriber) (eventsourcing.Subscription, error) {
	sub := &subscription{store: s, subscriber: subscriber}

	s.mu.Lock()
	var backlog []eventsourcing.RecordedEvent
	for _, events := range s.streams {
		backlog = append(backlog, events...)
	}
	s.mu.Unlock()

	s.subsMu.Lock()
	s.subscribers[sub] = struct{}{}
	s.subsMu.Unlock()

	if len(backlog) > 0 {
		sortByEventID(backlog)
		if err := subscriber.Deliver(ctx, eventsourcing.EventBatch{Events: backlog, AckTarget: sub}); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

func (s *Store) broadcast(events []eventsourcing.RecordedEvent) {
	if len(events) == 0 {
		return
	}
	s.subsMu.Lock()
	subs := make([]*subscription, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subsMu.Unlock()

	for _, sub := range subs {
		_ = sub.subscriber.Deliver(context.Background(), eventsourcing.EventBatch{Events: events, AckTarget: sub})
	}
}

func (s *Store) unsubscribe(sub *subscription) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subscribers, sub)
}

func sortByEventID(events []eventsourcing.RecordedEvent) {
	sort.Slice(events, func(i, j int) bool { return events[i].EventID < events[j].EventID })
}

// subscription is the handle SubscribeAll returns; it also implements
// AckTarget, though the in-memory store has no ack-dependent cleanup to do.
type subscription struct {
	store      *Store
	subscriber eventsourcing.Subscriber
}

func (s *subscription) Ack(_ context.Context, _ uint64) error { return nil }

func (s *subscription) Close() error {
	s.store.unsubscribe(s)
	return nil
}
