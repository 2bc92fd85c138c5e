package reaction

import (
	"context"
	"sync"

	"eventflow/eventsourcing"
	"eventflow/logging"
)

// ProcessRouter owns one subscription to the global event stream on behalf
// of a single process manager type: for every event it asks the module
// whether/how it correlates, spawns or reuses the matching processInstance,
// and only acknowledges the upstream subscription once that instance has
// acknowledged processing.
type ProcessRouter struct {
	name       string
	module     ProcessManagerModule
	store      eventsourcing.Store
	mapper     *eventsourcing.Mapper
	dispatcher CommandDispatcher
	logger     logging.ILogger

	mu        sync.Mutex
	instances map[string]*processInstance
}

// NewProcessRouter builds a router for name/module, backed by mapper for
// event decoding, store for snapshot access, and dispatcher for the
// commands instances emit.
func NewProcessRouter(name string, module ProcessManagerModule, store eventsourcing.Store, mapper *eventsourcing.Mapper, dispatcher CommandDispatcher, logger logging.ILogger) *ProcessRouter {
	return &ProcessRouter{
		name:       name,
		module:     module,
		store:      store,
		mapper:     mapper,
		dispatcher: dispatcher,
		logger:     logger,
		instances:  make(map[string]*processInstance),
	}
}

// Deliver implements eventsourcing.Subscriber.
func (r *ProcessRouter) Deliver(ctx context.Context, batch eventsourcing.EventBatch) error {
	var highestAcked uint64
	for _, rec := range batch.Events {
		evt, err := r.mapper.Decode(ctx, rec)
		if err != nil {
			return err
		}

		interest, ok := r.module.Interested(evt)
		if !ok || interest.Action == InterestIgnore {
			highestAcked = rec.EventID
			continue
		}

		meta := EventMetadata{
			EventID:       rec.EventID,
			StreamID:      rec.StreamID,
			StreamVersion: rec.StreamVersion,
			CorrelationID: rec.CorrelationID,
		}

		instance := r.getOrStart(interest.UUID)
		if err := instance.deliver(ctx, evt, meta); err != nil {
			return err
		}

		if interest.Action == InterestStop {
			instance.stop()
			r.evict(interest.UUID)
		}

		highestAcked = rec.EventID
	}

	if highestAcked > 0 {
		return batch.AckTarget.Ack(ctx, highestAcked)
	}
	return nil
}

// getOrStart locates the live instance for uuid, spawning one (from
// snapshot if present, else empty state) if absent or previously stopped.
func (r *ProcessRouter) getOrStart(uuid string) *processInstance {
	r.mu.Lock()
	defer r.mu.Unlock()

	if instance, ok := r.instances[uuid]; ok && !instance.isStopped() {
		return instance
	}
	instance := newProcessInstance(r.name, uuid, r.module, r.store, r.dispatcher, r.logger)
	r.instances[uuid] = instance
	return instance
}

func (r *ProcessRouter) evict(uuid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, uuid)
}

// Count returns the number of live instances, for tests and diagnostics.
func (r *ProcessRouter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}
