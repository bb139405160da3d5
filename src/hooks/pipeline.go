// Package hooks keeps the ordered hook chains and event listeners registered
// per collection and event, and runs them when an operation fires an event.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"syndrodm/src/helpers"
	"syndrodm/src/odmerr"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Lifecycle events fired by the engine. Callers may fire any other name
// through Fire.
const (
	EventQuery      = "query"
	EventPostQuery  = "postQuery"
	EventCreate     = "create"
	EventPostCreate = "postCreate"
	EventSave       = "save"
	EventPostSave   = "postSave"
	EventDelete     = "delete"
	EventPostDelete = "postDelete"
)

// Invocation is what hooks and listeners receive for one fire. Args are the
// operation specific payload (descriptor, document, result...).
type Invocation struct {
	Collection string
	Event      string
	Args       []interface{}
}

// Arg returns the i-th argument or nil.
func (inv *Invocation) Arg(i int) interface{} {
	if i < 0 || i >= len(inv.Args) {
		return nil
	}
	return inv.Args[i]
}

// HookFunc is a blocking hook. Returning nil lets the chain continue; an
// error aborts the chain and the operation that fired it.
type HookFunc func(ctx context.Context, inv *Invocation) error

// ListenerFunc is notified after all hooks succeeded. Its error is logged,
// never returned to the operation.
type ListenerFunc func(ctx context.Context, inv *Invocation) error

type chainKey struct {
	collection string
	event      string
}

// Pipeline is the registry of hook chains. Registration is expected during
// setup; Fire may be called concurrently afterwards.
type Pipeline struct {
	mu        sync.RWMutex
	hooks     map[chainKey][]HookFunc
	listeners map[chainKey][]ListenerFunc

	async    bool
	observer func(collection, event, state string)
	pending  sync.WaitGroup
	logger   *zap.SugaredLogger
}

type Option func(*Pipeline)

// WithAsyncListeners runs the listener batch of each fire in its own
// goroutine. Listeners of one batch still run in registration order.
func WithAsyncListeners() Option {
	return func(p *Pipeline) { p.async = true }
}

// WithObserver reports every state a fire enters.
func WithObserver(fn func(collection, event, state string)) Option {
	return func(p *Pipeline) { p.observer = fn }
}

func NewPipeline(logger *zap.SugaredLogger, opts ...Option) *Pipeline {
	p := &Pipeline{
		hooks:     make(map[chainKey][]HookFunc),
		listeners: make(map[chainKey][]ListenerFunc),
		logger:    helpers.OrNop(logger),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Hook appends a blocking hook to the chain of (collection, event).
func (p *Pipeline) Hook(collection, event string, fn HookFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := chainKey{collection, event}
	p.hooks[k] = append(p.hooks[k], fn)
}

// On appends a listener for (collection, event).
func (p *Pipeline) On(collection, event string, fn ListenerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := chainKey{collection, event}
	p.listeners[k] = append(p.listeners[k], fn)
}

// Has reports whether anything is registered for (collection, event).
func (p *Pipeline) Has(collection, event string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	k := chainKey{collection, event}
	return len(p.hooks[k]) > 0 || len(p.listeners[k]) > 0
}

func (p *Pipeline) chain(collection, event string) ([]HookFunc, []ListenerFunc) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	k := chainKey{collection, event}
	hooks := append([]HookFunc(nil), p.hooks[k]...)
	listeners := append([]ListenerFunc(nil), p.listeners[k]...)
	return hooks, listeners
}

// Fire runs the hooks of (collection, event) in registration order, then the
// listeners. The first failing hook stops the chain; Fire then returns an
// error of kind HookAborted wrapping the hook's error and no listener runs.
func (p *Pipeline) Fire(ctx context.Context, collection, event string, args ...interface{}) error {
	hooks, listeners := p.chain(collection, event)
	if len(hooks) == 0 && len(listeners) == 0 {
		return nil
	}

	inv := &Invocation{Collection: collection, Event: event, Args: args}
	m := p.newMachine(collection, event)
	p.transition(ctx, m, eventStart)

	for i, h := range hooks {
		if err := callHook(ctx, h, inv); err != nil {
			p.transition(ctx, m, eventFail)
			p.logger.Debugw("hook aborted", "collection", collection, "event", event, "hook", i, "error", err)
			return odmerr.Wrap(odmerr.KindHookAborted, event, collection, err)
		}
	}
	p.transition(ctx, m, eventHooksDone)

	if len(listeners) == 0 {
		p.transition(ctx, m, eventComplete)
		return nil
	}
	if p.async {
		p.pending.Add(1)
		ctx := context.WithoutCancel(ctx)
		go func() {
			defer p.pending.Done()
			p.runListeners(ctx, listeners, inv)
			p.transition(ctx, m, eventComplete)
		}()
		return nil
	}
	p.runListeners(ctx, listeners, inv)
	p.transition(ctx, m, eventComplete)
	return nil
}

// Wait blocks until every asynchronous listener batch has finished.
func (p *Pipeline) Wait() {
	p.pending.Wait()
}

func (p *Pipeline) runListeners(ctx context.Context, listeners []ListenerFunc, inv *Invocation) {
	var errs error
	for i, l := range listeners {
		if err := callListener(ctx, l, inv); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("listener %d: %w", i, err))
		}
	}
	if errs != nil {
		p.logger.Warnw("listeners failed", "collection", inv.Collection, "event", inv.Event,
			"count", len(multierr.Errors(errs)), "error", errs)
	}
}

func callHook(ctx context.Context, h HookFunc, inv *Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return h(ctx, inv)
}

func callListener(ctx context.Context, l ListenerFunc, inv *Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l(ctx, inv)
}
