package eventsourcing

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"eventflow/logging"
)

// routeEntry is one routing table row: which aggregate module/handler a
// command type maps to, and the timeout to apply absent a per-dispatch
// override. Multiple command types may share an entry.
type routeEntry struct {
	aggregateType string
	module        AggregateModule
	handler       CommandHandler
	timeout       time.Duration
}

// Router maps command types to aggregate actors via the Registry and
// applies the middleware chain around each dispatch.
type Router struct {
	registry    *Registry
	routes      map[reflect.Type]*routeEntry
	middlewares []Middleware
	tracer      CommandTracer
	logger      logging.ILogger
}

// NewRouter creates a Router backed by registry.
func NewRouter(registry *Registry, logger logging.ILogger) *Router {
	return &Router{
		registry: registry,
		routes:   make(map[reflect.Type]*routeEntry),
		logger:   logger,
	}
}

// Use appends a middleware layer to the dispatch chain, in registration
// order (first registered runs outermost).
func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

// SetTracer installs an optional CommandTracer invoked after every dispatch.
func (r *Router) SetTracer(tracer CommandTracer) {
	r.tracer = tracer
}

// Register associates a command prototype's concrete type with the
// aggregate module, handler, and timeout that should service it. Passing
// the same aggregateType/module/handler/timeout for multiple command
// prototypes lets several command types share one routing entry.
func (r *Router) Register(prototype Command, aggregateType string, module AggregateModule, handler CommandHandler, timeout time.Duration) error {
	if prototype == nil {
		return fmt.Errorf("eventsourcing: command prototype cannot be nil")
	}
	if module == nil {
		return fmt.Errorf("eventsourcing: aggregate module cannot be nil")
	}
	if handler == nil {
		return fmt.Errorf("eventsourcing: command handler cannot be nil")
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	r.routes[reflect.TypeOf(prototype)] = &routeEntry{
		aggregateType: aggregateType,
		module:        module,
		handler:       handler,
		timeout:       timeout,
	}
	return nil
}

// Dispatch routes cmd to its aggregate's actor and waits for the result,
// applying the middleware chain around the call. An optional timeout
// overrides the entry's registered default for this call only.
func (r *Router) Dispatch(ctx context.Context, cmd Command, timeout ...time.Duration) error {
	entry, ok := r.routes[reflect.TypeOf(cmd)]
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnregisteredCommand, cmd)
	}

	uuid := cmd.AggregateIdentity()
	if uuid == "" {
		return fmt.Errorf("%w: %T", ErrInvalidAggregateIdentity, cmd)
	}

	effectiveTimeout := entry.timeout
	if len(timeout) > 0 && timeout[0] > 0 {
		effectiveTimeout = timeout[0]
	}

	actor := r.registry.GetOrStart(entry.aggregateType, uuid, entry.module)

	final := func(ctx context.Context, c Command) error {
		execCtx, cancel := context.WithTimeout(ctx, effectiveTimeout)
		defer cancel()
		return actor.execute(execCtx, c, entry.handler)
	}

	start := time.Now()
	err := r.runMiddlewares(ctx, cmd, final)
	if r.tracer != nil {
		r.tracer.Trace(ctx, reflect.TypeOf(cmd).String(), time.Since(start).Nanoseconds(), err)
	}
	return err
}

func (r *Router) runMiddlewares(ctx context.Context, cmd Command, final DispatchFunc) error {
	if len(r.middlewares) == 0 {
		return final(ctx, cmd)
	}
	next := final
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		mw := r.middlewares[i]
		currentNext := next
		next = func(ctx context.Context, c Command) error {
			return mw.Handle(ctx, c, currentNext)
		}
	}
	return next(ctx, cmd)
}

// AggregateState returns a read-only snapshot of an aggregate's current
// state, for callers that need to observe the result of a dispatch without
// issuing another command.
func (r *Router) AggregateState(aggregateType, uuid string, module AggregateModule) (*AggregateState, error) {
	actor := r.registry.GetOrStart(aggregateType, uuid, module)
	return actor.snapshot()
}
