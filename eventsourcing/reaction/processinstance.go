package reaction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"eventflow/eventsourcing"
	"eventflow/logging"
)

// processInstance is a single correlation's actor: it owns one ProcessState,
// applies events to it one at a time, dispatches any commands the handle
// produces, and snapshots after each event.
//
// Like aggregateActor, a processInstance is a single-writer goroutine: its
// inbox guarantees no two events are ever folded into its state
// concurrently.
type processInstance struct {
	name   string
	uuid   string
	module ProcessManagerModule
	store  eventsourcing.Store
	dispatcher CommandDispatcher
	logger logging.ILogger

	inbox chan instanceRequest
	done  chan struct{}

	mu    sync.Mutex
	state ProcessState
}

type instanceRequest struct {
	ctx   context.Context
	evt   eventsourcing.Event
	meta  EventMetadata
	reply chan error
}

// sourceUUID is the snapshot key a process instance reads/writes under:
// name + "-" + uuid, exactly as the Process Manager Instance contract
// specifies.
func sourceUUID(name, uuid string) string {
	return name + "-" + uuid
}

func newProcessInstance(name, uuid string, module ProcessManagerModule, store eventsourcing.Store, dispatcher CommandDispatcher, logger logging.ILogger) *processInstance {
	p := &processInstance{
		name:       name,
		uuid:       uuid,
		module:     module,
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		inbox:      make(chan instanceRequest, 32),
		done:       make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *processInstance) run() {
	defer close(p.done)
	p.initialize()
	for req := range p.inbox {
		err := p.process(req.ctx, req.evt, req.meta)
		req.reply <- err
	}
}

// initialize restores the instance's state from its snapshot if one exists,
// otherwise starts it empty with LastSeenEventID 0.
func (p *processInstance) initialize() {
	ctx := context.Background()
	snap, err := p.store.ReadSnapshot(ctx, sourceUUID(p.name, p.uuid))
	if err == nil {
		domain, derr := p.module.Restore(p.uuid, snap.Data)
		if derr != nil {
			if p.logger != nil {
				p.logger.Error(ctx, "process instance snapshot restore failed",
					logging.String("name", p.name), logging.String("uuid", p.uuid), logging.Error(derr))
			}
			domain = p.module.New(p.uuid)
			snap.SourceVersion = 0
		}
		p.state = ProcessState{
			UUID:            p.uuid,
			Status:          ProcessStatusActive,
			Domain:          domain,
			LastSeenEventID: snap.SourceVersion,
		}
		return
	}
	if !errors.Is(err, eventsourcing.ErrSnapshotNotFound) && p.logger != nil {
		p.logger.Warn(ctx, "process instance snapshot read failed",
			logging.String("name", p.name), logging.String("uuid", p.uuid), logging.Error(err))
	}
	p.state = ProcessState{
		UUID:   p.uuid,
		Status: ProcessStatusActive,
		Domain: p.module.New(p.uuid),
	}
}

// deliver submits one event to the instance and blocks until it has been
// fully processed (folded, commands dispatched, snapshotted).
func (p *processInstance) deliver(ctx context.Context, evt eventsourcing.Event, meta EventMetadata) error {
	reply := make(chan error, 1)
	select {
	case p.inbox <- instanceRequest{ctx: ctx, evt: evt, meta: meta, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process implements the Process Manager Instance's per-event contract.
func (p *processInstance) process(ctx context.Context, evt eventsourcing.Event, meta EventMetadata) error {
	p.mu.Lock()
	if p.state.LastSeenEventID != 0 && meta.EventID <= p.state.LastSeenEventID {
		p.mu.Unlock()
		return nil
	}
	domain := p.state.Domain
	p.mu.Unlock()

	newDomain, commands, err := p.module.Handle(ctx, domain, evt)
	if err != nil {
		return fmt.Errorf("reaction: process instance %s/%s handle: %w", p.name, p.uuid, err)
	}

	for i, cmd := range commands {
		if err := p.dispatcher.Dispatch(ctx, cmd); err != nil {
			return fmt.Errorf("reaction: process instance %s/%s dispatch command %d: %w", p.name, p.uuid, i, err)
		}
	}

	p.mu.Lock()
	p.state.Domain = newDomain
	p.state.PendingCommands = nil
	p.state.LastSeenEventID = meta.EventID
	snapState := p.state
	p.mu.Unlock()

	data, err := eventsourcing.EncodeSnapshotData(snapState.Domain)
	if err != nil {
		return fmt.Errorf("reaction: process instance %s/%s encode snapshot: %w", p.name, p.uuid, err)
	}
	snap := eventsourcing.Snapshot{
		SourceUUID:    sourceUUID(p.name, p.uuid),
		SourceVersion: meta.EventID,
		SourceType:    p.name,
		Data:          data,
	}
	if err := p.store.RecordSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("reaction: process instance %s/%s record snapshot: %w", p.name, p.uuid, err)
	}
	return nil
}

// stop marks the instance stopped; it continues draining its inbox (any
// event already in flight still completes) but callers should not route new
// events to it after this returns.
func (p *processInstance) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Status = ProcessStatusStopped
}

func (p *processInstance) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Status == ProcessStatusStopped
}
