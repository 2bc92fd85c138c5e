// Package natsbus fans a Store's global event stream out across processes
// over NATS core pub/sub: one process's AppendToStream publishes, every
// other process's SubscribeAll receives the same batch.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"eventflow/eventsourcing"
	"eventflow/logging"
)

// Config configures the NATS-backed broadcast layer.
type Config struct {
	Conn    *nats.Conn
	URL     string
	Subject string
	Logger  logging.ILogger
}

// BroadcastStore decorates a local eventsourcing.Store so that every append
// is also published to NATS, and SubscribeAll listens on NATS instead of the
// base store's in-process subscriber list. Reads, snapshot reads/writes, and
// append persistence itself still go through base.
type BroadcastStore struct {
	base    eventsourcing.Store
	conn    *nats.Conn
	ownConn bool
	subject string
	logger  logging.ILogger
}

// New wraps base with a NATS-backed SubscribeAll/publish layer.
func New(base eventsourcing.Store, cfg Config) (*BroadcastStore, error) {
	if cfg.Subject == "" {
		cfg.Subject = "eventflow.events"
	}

	conn := cfg.Conn
	ownConn := false
	if conn == nil {
		url := cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		var err error
		conn, err = nats.Connect(url)
		if err != nil {
			return nil, fmt.Errorf("natsbus: connect: %w", err)
		}
		ownConn = true
	}

	return &BroadcastStore{
		base:    base,
		conn:    conn,
		ownConn: ownConn,
		subject: cfg.Subject,
		logger:  cfg.Logger,
	}, nil
}

func (s *BroadcastStore) ReadStreamForward(ctx context.Context, streamID string, fromVersion uint64, maxCount int) ([]eventsourcing.RecordedEvent, error) {
	return s.base.ReadStreamForward(ctx, streamID, fromVersion, maxCount)
}

// AppendToStream appends to base, then publishes the resulting batch to
// every SubscribeAll listener across the cluster.
func (s *BroadcastStore) AppendToStream(ctx context.Context, streamID string, expectedVersion uint64, events []eventsourcing.RecordedEvent) error {
	if err := s.base.AppendToStream(ctx, streamID, expectedVersion, events); err != nil {
		return err
	}

	committed, err := s.base.ReadStreamForward(ctx, streamID, expectedVersion, len(events))
	if err != nil {
		return fmt.Errorf("natsbus: re-read appended events for publish: %w", err)
	}

	data, err := json.Marshal(committed)
	if err != nil {
		return fmt.Errorf("natsbus: marshal batch: %w", err)
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		if s.logger != nil {
			s.logger.Warn(ctx, "natsbus publish failed", logging.String("subject", s.subject), logging.Error(err))
		}
		return fmt.Errorf("natsbus: publish: %w", err)
	}
	return nil
}

func (s *BroadcastStore) ReadSnapshot(ctx context.Context, sourceUUID string) (eventsourcing.Snapshot, error) {
	return s.base.ReadSnapshot(ctx, sourceUUID)
}

func (s *BroadcastStore) RecordSnapshot(ctx context.Context, snap eventsourcing.Snapshot) error {
	return s.base.RecordSnapshot(ctx, snap)
}

// SubscribeAll subscribes to the NATS subject and delivers every published
// batch to subscriber. Unlike a durable JetStream consumer, NATS core
// pub/sub does not redeliver past messages to a late subscriber; callers
// that need the full backlog should read it via ReadStreamForward first.
func (s *BroadcastStore) SubscribeAll(ctx context.Context, subscriber eventsourcing.Subscriber) (eventsourcing.Subscription, error) {
	natsSub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		var events []eventsourcing.RecordedEvent
		if err := json.Unmarshal(msg.Data, &events); err != nil {
			if s.logger != nil {
				s.logger.Error(context.Background(), "natsbus decode batch failed", logging.Error(err))
			}
			return
		}
		batch := eventsourcing.EventBatch{Events: events, AckTarget: noopAckTarget{}}
		if err := subscriber.Deliver(context.Background(), batch); err != nil {
			if s.logger != nil {
				s.logger.Error(context.Background(), "natsbus subscriber delivery failed", logging.Error(err))
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("natsbus: subscribe: %w", err)
	}
	return &subscription{sub: natsSub}, nil
}

// Close releases the NATS connection if this BroadcastStore opened it.
func (s *BroadcastStore) Close() {
	if s.ownConn && s.conn != nil {
		s.conn.Close()
	}
}

type subscription struct {
	sub *nats.Subscription
}

func (s *subscription) Close() error {
	return s.sub.Unsubscribe()
}

// noopAckTarget is used for NATS-delivered batches: NATS core pub/sub has no
// redelivery to acknowledge against, so Ack is a no-op. Deduplication still
// happens on the receiving end via HandlerState/ProcessState cursors.
type noopAckTarget struct{}

func (noopAckTarget) Ack(context.Context, uint64) error { return nil }
