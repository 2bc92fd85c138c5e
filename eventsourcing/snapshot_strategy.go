package eventsourcing

import (
	"context"
	"sync"
	"time"
)

// SnapshotSubject is the minimal view of a versioned, snapshot-eligible
// actor a SnapshotStrategy needs, satisfied by the aggregate actor. Process
// manager instances do not consult a strategy; they snapshot after every
// event.
type SnapshotSubject interface {
	GetSourceUUID() string
	GetSourceVersion() uint64
}

// SnapshotStrategy decides whether a snapshot-eligible actor should have a
// new snapshot recorded right now.
type SnapshotStrategy interface {
	ShouldSnapshot(ctx context.Context, subject SnapshotSubject, lastSnapshotVersion uint64) (bool, error)
}

// EventCountStrategy snapshots every N applied events.
type EventCountStrategy struct {
	Frequency uint64
}

// NewEventCountStrategy returns a strategy that snapshots every frequency
// events; frequency<=0 defaults to 100.
func NewEventCountStrategy(frequency uint64) *EventCountStrategy {
	if frequency == 0 {
		frequency = 100
	}
	return &EventCountStrategy{Frequency: frequency}
}

func (s *EventCountStrategy) ShouldSnapshot(_ context.Context, subject SnapshotSubject, lastSnapshotVersion uint64) (bool, error) {
	version := subject.GetSourceVersion()
	return version >= lastSnapshotVersion+s.Frequency, nil
}

// TimeDurationStrategy snapshots once at least Duration has elapsed since
// the last time it said yes for a given subject.
type TimeDurationStrategy struct {
	Duration time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewTimeDurationStrategy returns a time-based strategy; duration<=0
// defaults to 24h.
func NewTimeDurationStrategy(duration time.Duration) *TimeDurationStrategy {
	if duration <= 0 {
		duration = 24 * time.Hour
	}
	return &TimeDurationStrategy{Duration: duration, now: time.Now, last: make(map[string]time.Time)}
}

func (s *TimeDurationStrategy) ShouldSnapshot(_ context.Context, subject SnapshotSubject, _ uint64) (bool, error) {
	now := s.now()
	uuid := subject.GetSourceUUID()

	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.last[uuid]
	if !ok || now.Sub(last) >= s.Duration {
		s.last[uuid] = now
		return true, nil
	}
	return false, nil
}

// CompositeMode controls how CompositeSnapshotStrategy combines strategies.
type CompositeMode string

const (
	CompositeModeAny CompositeMode = "any"
	CompositeModeAll CompositeMode = "all"
)

// CompositeSnapshotStrategy combines several strategies with any/all
// semantics.
type CompositeSnapshotStrategy struct {
	Mode       CompositeMode
	Strategies []SnapshotStrategy
}

func (s *CompositeSnapshotStrategy) ShouldSnapshot(ctx context.Context, subject SnapshotSubject, lastSnapshotVersion uint64) (bool, error) {
	if len(s.Strategies) == 0 {
		return false, nil
	}
	mode := s.Mode
	if mode == "" {
		mode = CompositeModeAny
	}
	for _, strat := range s.Strategies {
		should, err := strat.ShouldSnapshot(ctx, subject, lastSnapshotVersion)
		if err != nil {
			return false, err
		}
		if should && mode == CompositeModeAny {
			return true, nil
		}
		if !should && mode == CompositeModeAll {
			return false, nil
		}
	}
	return mode == CompositeModeAll, nil
}
