package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"eventflow/logging"
)

// readBatchSize is the fixed batch size used when replaying a stream on
// actor start. Larger batches trade memory for fewer round-trips; smaller
// batches bound recovery memory at the cost of more round-trips.
const readBatchSize = 100

// DefaultCommandTimeout is applied when a dispatch does not specify one.
const DefaultCommandTimeout = 5000 * time.Millisecond

// actorRequest pairs a command with a reply channel.
type actorRequest struct {
	ctx     context.Context
	cmd     Command
	handler CommandHandler
	reply   chan actorReply
}

type actorReply struct {
	err error
}

// aggregateActor is a single-writer goroutine owning one aggregate's state.
// Commands are processed strictly one at a time, in the order received on
// inbox, which is what guarantees no two commands against the same aggregate
// ever race.
type aggregateActor struct {
	uuid          string
	aggregateType string
	module        AggregateModule
	store         Store
	mapper        *Mapper
	logger        logging.ILogger
	inbox         chan actorRequest
	done          chan struct{}
	state         *AggregateState
	initErr       error

	snapshotStrategy    SnapshotStrategy
	lastSnapshotVersion uint64
}

// GetSourceUUID satisfies SnapshotSubject.
func (a *aggregateActor) GetSourceUUID() string { return a.uuid }

// GetSourceVersion satisfies SnapshotSubject.
func (a *aggregateActor) GetSourceVersion() uint64 {
	if a.state == nil {
		return 0
	}
	return a.state.Version
}

func newAggregateActor(uuid, aggregateType string, module AggregateModule, store Store, mapper *Mapper, logger logging.ILogger, snapshotStrategy SnapshotStrategy) *aggregateActor {
	a := &aggregateActor{
		uuid:             uuid,
		aggregateType:    aggregateType,
		module:           module,
		store:            store,
		mapper:           mapper,
		logger:           logger,
		inbox:            make(chan actorRequest, 32),
		done:             make(chan struct{}),
		snapshotStrategy: snapshotStrategy,
	}
	go a.run()
	return a
}

// run is the actor's cooperative loop: initialize once, then read one
// request at a time, process it to completion, reply, and loop. No
// preemption mid-request.
func (a *aggregateActor) run() {
	defer close(a.done)
	a.initialize()
	for req := range a.inbox {
		err := a.process(req.ctx, req.cmd, req.handler)
		req.reply <- actorReply{err: err}
	}
}

// initialize rebuilds the aggregate's state before the actor accepts its
// first command. The registry enforces that commands are only delivered
// after this completes, by virtue of run() processing initialize() before
// entering the inbox loop. If a snapshot exists it is used as the starting
// point and only the events recorded after it are replayed; otherwise replay
// starts from an empty state at version 0.
func (a *aggregateActor) initialize() {
	ctx := context.Background()
	var events []Event
	var fromVersion uint64
	streamExists := false

	var domain any
	var haveSnapshot bool
	snap, err := a.store.ReadSnapshot(ctx, a.uuid)
	if err == nil {
		restored, derr := a.module.Restore(a.uuid, snap.Data)
		if derr != nil {
			a.initErr = fmt.Errorf("eventsourcing: restore snapshot %s: %w", a.uuid, derr)
			return
		}
		domain = restored
		fromVersion = snap.SourceVersion
		haveSnapshot = true
		a.lastSnapshotVersion = snap.SourceVersion
		streamExists = true
	} else if !errors.Is(err, ErrSnapshotNotFound) {
		a.initErr = fmt.Errorf("eventsourcing: read snapshot %s: %w", a.uuid, err)
		return
	}

	for {
		batch, err := a.store.ReadStreamForward(ctx, a.uuid, fromVersion, readBatchSize)
		if err != nil {
			if errors.Is(err, ErrStreamNotFound) {
				break
			}
			a.initErr = fmt.Errorf("eventsourcing: load stream %s: %w", a.uuid, err)
			return
		}
		if len(batch) == 0 {
			break
		}
		streamExists = true
		for _, rec := range batch {
			evt, derr := a.mapper.Decode(ctx, rec)
			if derr != nil {
				a.initErr = derr
				return
			}
			events = append(events, evt)
		}
		fromVersion = batch[len(batch)-1].StreamVersion
		if len(batch) < readBatchSize {
			break
		}
	}

	switch {
	case haveSnapshot:
		for _, evt := range events {
			domain, err = a.module.ApplyEvent(domain, evt)
			if err != nil {
				break
			}
		}
	case streamExists:
		domain, err = a.module.Load(a.uuid, events)
	default:
		domain = a.module.New(a.uuid)
		err = nil
	}
	if err != nil {
		a.initErr = fmt.Errorf("eventsourcing: rebuild aggregate %s: %w", a.uuid, err)
		return
	}

	a.state = &AggregateState{
		UUID:    a.uuid,
		Version: fromVersion,
		Pending: nil,
		Domain:  domain,
	}
	if a.logger != nil {
		a.logger.Debug(ctx, "aggregate actor initialized",
			logging.String("uuid", a.uuid), logging.Uint64("version", fromVersion))
	}
}

// execute submits a command to the actor and blocks until it completes or
// the context's deadline elapses, returning ErrAggregateExecutionTimeout in
// the latter case. The handler keeps running inside the actor goroutine after
// a timeout; only the caller's wait is abandoned, so a late command still
// commits and is never silently lost.
func (a *aggregateActor) execute(ctx context.Context, cmd Command, handler CommandHandler) error {
	reply := make(chan actorReply, 1)
	req := actorRequest{ctx: ctx, cmd: cmd, handler: handler, reply: reply}

	select {
	case a.inbox <- req:
	case <-ctx.Done():
		return ErrAggregateExecutionTimeout
	}

	select {
	case r := <-reply:
		return r.err
	case <-ctx.Done():
		return ErrAggregateExecutionTimeout
	}
}

// process runs one command to completion inside the actor goroutine: it is
// never called concurrently with itself. It captures the expected version
// before invoking the handler, appends whatever events the handler produced
// under that expected version, and on success gives the snapshot strategy a
// chance to record a new snapshot.
func (a *aggregateActor) process(ctx context.Context, cmd Command, handler CommandHandler) error {
	if a.initErr != nil {
		return a.initErr
	}

	expectedVersion := a.state.Version

	newState, err := handler.Handle(ctx, a.state, cmd)
	if err != nil {
		// Discard any pending events from the failed attempt; state is
		// untouched because we never replaced a.state.
		return NewDomainError(err)
	}

	if len(newState.Pending) == 0 {
		a.state = newState
		return nil
	}

	// Every event a single command produces shares one correlation id, so a
	// process manager reacting downstream can tell which events originated
	// from the same command execution.
	correlationID := uuid.NewString()

	// The caller may already have timed out and cancelled ctx; the append
	// and snapshot still run to completion so the command is not lost.
	ctx = context.WithoutCancel(ctx)
	recorded := make([]RecordedEvent, 0, len(newState.Pending))
	for _, evt := range newState.Pending {
		rec, encErr := ToRecordedEvent(evt, correlationID)
		if encErr != nil {
			return encErr
		}
		recorded = append(recorded, rec)
	}

	if err := a.store.AppendToStream(ctx, a.uuid, expectedVersion, recorded); err != nil {
		if errors.Is(err, ErrWrongExpectedVersion) {
			return ErrWrongExpectedVersion
		}
		return fmt.Errorf("eventsourcing: append to stream %s: %w", a.uuid, err)
	}

	newState.Version = expectedVersion + uint64(len(recorded))
	newState.Pending = nil
	a.state = newState

	a.maybeSnapshot(ctx)
	return nil
}

// maybeSnapshot consults the configured snapshot strategy, if any, and
// persists a. state's domain state when it says so. Failure to snapshot is
// logged, never returned: a missed snapshot only costs a slower future
// recovery, not correctness.
func (a *aggregateActor) maybeSnapshot(ctx context.Context) {
	if a.snapshotStrategy == nil {
		return
	}
	should, err := a.snapshotStrategy.ShouldSnapshot(ctx, a, a.lastSnapshotVersion)
	if err != nil || !should {
		if err != nil && a.logger != nil {
			a.logger.Warn(ctx, "snapshot strategy evaluation failed",
				logging.String("uuid", a.uuid), logging.Error(err))
		}
		return
	}

	data, err := EncodeSnapshotData(a.state.Domain)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn(ctx, "snapshot encode failed",
				logging.String("uuid", a.uuid), logging.Error(err))
		}
		return
	}

	snap := Snapshot{
		SourceUUID:    a.uuid,
		SourceType:    a.aggregateType,
		SourceVersion: a.state.Version,
		Data:          data,
	}
	if err := a.store.RecordSnapshot(ctx, snap); err != nil {
		if a.logger != nil {
			a.logger.Warn(ctx, "record snapshot failed",
				logging.String("uuid", a.uuid), logging.Error(err))
		}
		return
	}
	a.lastSnapshotVersion = a.state.Version
}

// snapshot returns a shallow copy of the actor's current AggregateState for
// read-only inspection (e.g. GetAggregateVersion, history views).
func (a *aggregateActor) snapshot() (*AggregateState, error) {
	reply := make(chan actorReply, 1)
	var copied AggregateState
	req := actorRequest{
		ctx: context.Background(),
		handler: CommandHandlerFunc(func(_ context.Context, s *AggregateState, _ Command) (*AggregateState, error) {
			copied = *s
			return s, nil
		}),
		cmd:   noopCommand{},
		reply: reply,
	}
	select {
	case a.inbox <- req:
	case <-a.done:
		return nil, a.initErr
	}
	r := <-reply
	if r.err != nil {
		return nil, r.err
	}
	return &copied, nil
}

// noopCommand is used internally by snapshot() to read state through the
// actor's normal serialization point without mutating anything.
type noopCommand struct{}

func (noopCommand) AggregateIdentity() string { return "" }
