package sqlstore

import (
	"context"
	"fmt"
)

// EnableOutbox adds an outbox table and switches future AppendToStream calls
// into writing an outbox row for each event in the same transaction as the
// event itself, instead of relying solely on the in-process broadcast that
// SubscribeAll normally serves. A host that wants atomic "commit event and
// guarantee publish" semantics drains PendingOutbox on its own schedule and
// calls MarkPublished once delivery to its transport succeeds.
func (s *Store) EnableOutbox(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS event_outbox (
			event_id INTEGER PRIMARY KEY,
			stream_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			data BLOB NOT NULL,
			published INTEGER NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("sqlstore: enable outbox: %w", err)
	}
	s.outboxEnabled = true
	return nil
}

// OutboxEntry is one unpublished event awaiting delivery to an external
// transport.
type OutboxEntry struct {
	EventID   uint64
	StreamID  string
	EventType string
	Data      []byte
}

// PendingOutbox returns up to limit outbox rows not yet marked published, in
// event_id order.
func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, stream_id, event_type, data FROM event_outbox
		WHERE published = 0
		ORDER BY event_id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: pending outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.EventID, &e.StreamID, &e.EventType, &e.Data); err != nil {
			return nil, fmt.Errorf("sqlstore: scan outbox entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkPublished records that eventID has been successfully delivered
// downstream and should no longer be returned by PendingOutbox.
func (s *Store) MarkPublished(ctx context.Context, eventID uint64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE event_outbox SET published = 1 WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("sqlstore: mark published: %w", err)
	}
	return nil
}
