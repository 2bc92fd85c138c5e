// Package snowflake mints the monotonically increasing int64 EventIDs that
// memorystore and sqlstore stamp on every RecordedEvent. A k-ordered ID lets
// a subscriber's cursor compare "have I seen this one" with a plain integer
// comparison instead of a timestamp or a separate sequence table.
package snowflake

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// epoch anchors the timestamp component; IDs minted before this are
	// impossible. 2023-01-01 00:00:00 UTC.
	epoch int64 = 1672531200000

	// Bit widths of the three generator-identity/sequence components.
	workerIDBits     = 5
	datacenterIDBits = 5
	sequenceBits     = 12

	maxWorkerID     = -1 ^ (-1 << workerIDBits)     // 31
	maxDatacenterID = -1 ^ (-1 << datacenterIDBits) // 31
	maxSequence     = -1 ^ (-1 << sequenceBits)     // 4095

	workerIDShift      = sequenceBits
	datacenterIDShift  = sequenceBits + workerIDBits
	timestampLeftShift = sequenceBits + workerIDBits + datacenterIDBits

	// DefaultDatacenterID/DefaultWorkerID identify a single-process store;
	// a deployment running more than one event-store process must assign
	// distinct (datacenterID, workerID) pairs to each to keep IDs unique.
	DefaultDatacenterID int64 = 1
	DefaultWorkerID     int64 = 1
)

// Generator mints snowflake-shaped int64 IDs: timestamp, datacenter,
// worker, and a per-millisecond sequence packed into one int64.
type Generator struct {
	mux           sync.Mutex
	datacenterID  int64
	workerID      int64
	sequence      int64
	lastTimestamp int64
}

// NewGenerator builds a Generator for the given datacenter/worker identity.
func NewGenerator(datacenterID, workerID int64) (*Generator, error) {
	if datacenterID < 0 || datacenterID > maxDatacenterID {
		return nil, errors.New("datacenter ID out of range")
	}

	if workerID < 0 || workerID > maxWorkerID {
		return nil, errors.New("worker ID out of range")
	}

	return &Generator{
		datacenterID:  datacenterID,
		workerID:      workerID,
		sequence:      0,
		lastTimestamp: -1,
	}, nil
}

// NextID returns the next EventID, strictly greater than every ID this
// Generator has returned before.
func (g *Generator) NextID() (int64, error) {
	g.mux.Lock()
	defer g.mux.Unlock()

	now := time.Now().UnixNano() / 1e6

	if now < g.lastTimestamp {
		return 0, errors.New("clock moved backwards, refusing to generate id")
	}

	if now == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// Sequence exhausted for this millisecond; spin to the next one.
			for now <= g.lastTimestamp {
				now = time.Now().UnixNano() / 1e6
			}
		}
	} else {
		g.sequence = 0
	}

	g.lastTimestamp = now

	id := ((now - epoch) << timestampLeftShift) |
		(g.datacenterID << datacenterIDShift) |
		(g.workerID << workerIDShift) |
		g.sequence

	return id, nil
}

// Generate is NextID with the error discarded, for callers that would just
// treat an error as "retry the clock check" anyway.
func (g *Generator) Generate() int64 {
	id, _ := g.NextID()
	return id
}

// Parse decomposes an EventID back into its timestamp/datacenter/worker/
// sequence components, mainly useful when diagnosing a store's ID stream.
func Parse(id int64) map[string]int64 {
	return map[string]int64{
		"timestamp":    (id >> timestampLeftShift) + epoch,
		"datacenterID": (id >> datacenterIDShift) & maxDatacenterID,
		"workerID":     (id >> workerIDShift) & maxWorkerID,
		"sequence":     id & maxSequence,
	}
}

// defaultGenerator backs the package-level NextID/Generate for stores that
// don't need a distinct datacenter/worker identity of their own.
var defaultGenerator atomic.Pointer[Generator]

func init() {
	gen, _ := NewGenerator(1, 1)
	defaultGenerator.Store(gen)
}

// NextID mints an EventID from the package-level default generator.
func NextID() (int64, error) {
	gen := defaultGenerator.Load()
	if gen == nil {
		return 0, errors.New("default generator is not initialized")
	}
	return gen.NextID()
}

// Generate is NextID with the error discarded.
func Generate() int64 {
	gen := defaultGenerator.Load()
	if gen == nil {
		return 0
	}
	return gen.Generate()
}

// SetDefaultGenerator replaces the package-level default generator,
// e.g. so a multi-process deployment can assign itself a distinct identity.
func SetDefaultGenerator(datacenterID, workerID int64) error {
	gen, err := NewGenerator(datacenterID, workerID)
	if err != nil {
		return err
	}
	defaultGenerator.Store(gen)
	return nil
}

// InitDefault resets the package-level default generator to
// DefaultDatacenterID/DefaultWorkerID.
func InitDefault() {
	_ = SetDefaultGenerator(DefaultDatacenterID, DefaultWorkerID)
}

// InitGenerator resets the package-level default generator to a caller-
// supplied datacenter/worker identity.
func InitGenerator(datacenterID, workerID int64) error {
	return SetDefaultGenerator(datacenterID, workerID)
}
