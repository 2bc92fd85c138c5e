// Package rediscursor implements reaction.CursorStore on top of Redis, so an
// Event Handler Runtime resumes from its last acknowledged event_id after a
// restart without replaying the whole stream.
package rediscursor

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// client captures the subset of go-redis commands rediscursor depends on.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Config describes how to connect to Redis and key cursors.
type Config struct {
	Client    redis.UniversalClient
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// Store is a Redis-backed reaction.CursorStore.
type Store struct {
	client    client
	keyPrefix string
}

// New builds a Store connected per cfg.
func New(cfg Config) (*Store, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "eventflow:cursor:"
	}

	var cl client
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		cl = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}
	if cl == nil {
		return nil, errors.New("rediscursor: redis client not configured")
	}
	return &Store{client: cl, keyPrefix: cfg.KeyPrefix}, nil
}

func (s *Store) key(name string) string {
	return s.keyPrefix + name
}

// LoadCursor implements reaction.CursorStore. A key that has never been set
// returns 0, matching a cursor that has never advanced.
func (s *Store) LoadCursor(ctx context.Context, name string) (uint64, error) {
	val, err := s.client.Get(ctx, s.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

// SaveCursor implements reaction.CursorStore. Cursors never expire: a
// restarted consumer must still be able to resume after an arbitrary
// downtime.
func (s *Store) SaveCursor(ctx context.Context, name string, lastSeenEventID uint64) error {
	return s.client.Set(ctx, s.key(name), strconv.FormatUint(lastSeenEventID, 10), 0).Err()
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
