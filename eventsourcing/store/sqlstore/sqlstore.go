// Package sqlstore implements eventsourcing.Store on top of database/sql, in
// the dialect modernc.org/sqlite speaks. It is the durable reference
// adapter: streams, the global event feed, and snapshots all persist across
// restarts.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"eventflow/codegen/snowflake"
	"eventflow/eventsourcing"
)

// Config configures the sqlite-backed store.
type Config struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Store is an eventsourcing.Store backed by a SQL database. SubscribeAll is
// served in-process (the store fans out appends to its own in-memory
// subscriber list); cross-process fan-out is the concern of
// eventsourcing/transport/natsbus, which can wrap a Store.
type Store struct {
	db  *sql.DB
	ids *snowflake.Generator

	outboxEnabled bool

	subsMu      sync.Mutex
	subscribers map[*subscription]struct{}
}

// New opens (and migrates) a sqlite-backed store at cfg.DSN.
func New(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		cfg.DSN = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	gen, err := snowflake.NewGenerator(snowflake.DefaultDatacenterID, snowflake.DefaultWorkerID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: id generator: %w", err)
	}

	s := &Store{db: db, ids: gen, subscribers: make(map[*subscription]struct{})}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			event_id INTEGER PRIMARY KEY,
			stream_id TEXT NOT NULL,
			stream_version INTEGER NOT NULL,
			correlation_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			data BLOB NOT NULL,
			UNIQUE(stream_id, stream_version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_stream ON events(stream_id, stream_version)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			source_uuid TEXT PRIMARY KEY,
			source_version INTEGER NOT NULL,
			source_type TEXT NOT NULL,
			data BLOB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReadStreamForward implements eventsourcing.Store.
func (s *Store) ReadStreamForward(ctx context.Context, streamID string, fromVersion uint64, maxCount int) ([]eventsourcing.RecordedEvent, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE stream_id = ?`, streamID).Scan(&count); err != nil {
		return nil, fmt.Errorf("sqlstore: check stream exists: %w", err)
	}
	if count == 0 {
		return nil, eventsourcing.ErrStreamNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, stream_id, stream_version, correlation_id, created_at, event_type, data
		FROM events
		WHERE stream_id = ? AND stream_version > ?
		ORDER BY stream_version ASC
		LIMIT ?`, streamID, fromVersion, maxCount)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: read stream: %w", err)
	}
	defer rows.Close()

	var out []eventsourcing.RecordedEvent
	for rows.Next() {
		var rec eventsourcing.RecordedEvent
		var createdAtUnixNano int64
		if err := rows.Scan(&rec.EventID, &rec.StreamID, &rec.StreamVersion, &rec.CorrelationID, &createdAtUnixNano, &rec.Type, &rec.Data); err != nil {
			return nil, fmt.Errorf("sqlstore: scan event: %w", err)
		}
		rec.CreatedAt = time.Unix(0, createdAtUnixNano)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendToStream implements eventsourcing.Store: the version check and all
// inserts happen in a single transaction, so a concurrent writer either
// sees the whole batch or none of it.
func (s *Store) AppendToStream(ctx context.Context, streamID string, expectedVersion uint64, events []eventsourcing.RecordedEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	var current uint64
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(stream_version), 0) FROM events WHERE stream_id = ?`, streamID).Scan(&current)
	if err != nil {
		return fmt.Errorf("sqlstore: read current version: %w", err)
	}
	if current != expectedVersion {
		return eventsourcing.ErrWrongExpectedVersion
	}

	appended := make([]eventsourcing.RecordedEvent, 0, len(events))
	for i, evt := range events {
		evt.StreamID = streamID
		evt.StreamVersion = expectedVersion + uint64(i) + 1
		evt.EventID = uint64(s.ids.Generate())
		if evt.CreatedAt.IsZero() {
			evt.CreatedAt = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (event_id, stream_id, stream_version, correlation_id, created_at, event_type, data)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			evt.EventID, evt.StreamID, evt.StreamVersion, evt.CorrelationID, evt.CreatedAt.UnixNano(), evt.Type, evt.Data)
		if err != nil {
			return fmt.Errorf("sqlstore: insert event: %w", err)
		}

		if s.outboxEnabled {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO event_outbox (event_id, stream_id, event_type, data)
				VALUES (?, ?, ?, ?)`,
				evt.EventID, evt.StreamID, evt.Type, evt.Data)
			if err != nil {
				return fmt.Errorf("sqlstore: insert outbox entry: %w", err)
			}
		}

		appended = append(appended, evt)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}

	s.broadcast(appended)
	return nil
}

// ReadSnapshot implements eventsourcing.Store.
func (s *Store) ReadSnapshot(ctx context.Context, sourceUUID string) (eventsourcing.Snapshot, error) {
	var snap eventsourcing.Snapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT source_uuid, source_version, source_type, data FROM snapshots WHERE source_uuid = ?`, sourceUUID).
		Scan(&snap.SourceUUID, &snap.SourceVersion, &snap.SourceType, &snap.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return eventsourcing.Snapshot{}, eventsourcing.ErrSnapshotNotFound
	}
	if err != nil {
		return eventsourcing.Snapshot{}, fmt.Errorf("sqlstore: read snapshot: %w", err)
	}
	return snap, nil
}

// RecordSnapshot implements eventsourcing.Store.
func (s *Store) RecordSnapshot(ctx context.Context, snap eventsourcing.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (source_uuid, source_version, source_type, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_uuid) DO UPDATE SET source_version = excluded.source_version, source_type = excluded.source_type, data = excluded.data`,
		snap.SourceUUID, snap.SourceVersion, snap.SourceType, snap.Data)
	if err != nil {
		return fmt.Errorf("sqlstore: record snapshot: %w", err)
	}
	return nil
}

// SubscribeAll implements eventsourcing.Store with an in-process fan-out:
// every future AppendToStream call delivers its batch to subscriber.
func (s *Store) SubscribeAll(_ context.Context, subscriber eventsourcing.Subscriber) (eventsourcing.Subscription, error) {
	sub := &subscription{store: s, subscriber: subscriber}
	s.subsMu.Lock()
	s.subscribers[sub] = struct{}{}
	s.subsMu.Unlock()
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

type subscription struct {
	store      *Store
	subscriber eventsourcing.Subscriber
}

func (s *subscription) Ack(_ context.Context, _ uint64) error { return nil }

func (s *subscription) Close() error {
	s.store.unsubscribe(s)
	return nil
}
