// Package engine turns query descriptors into driver calls, resolves
// references between collections and wraps results into tracked documents.
package engine

import (
	"context"

	"syndrodm/src/driver"
	"syndrodm/src/helpers"
	"syndrodm/src/hooks"
	"syndrodm/src/schema"

	"go.uber.org/zap"
)

// DefaultPopulateDepth caps the number of reference hops one populate path
// may take.
const DefaultPopulateDepth = 8

type Options struct {
	// DropUnresolved removes unresolved entries from reference arrays
	// instead of leaving nil in their place.
	DropUnresolved bool
	// PopulateDepth caps multi-hop population.
	PopulateDepth int
}

type Option func(*Options)

func WithDropUnresolved() Option {
	return func(o *Options) { o.DropUnresolved = true }
}

func WithPopulateDepth(depth int) Option {
	return func(o *Options) {
		if depth > 0 {
			o.PopulateDepth = depth
		}
	}
}

// Engine is safe for concurrent use once schemas and hooks are registered.
type Engine struct {
	registry *schema.Registry
	driver   driver.Driver
	hooks    *hooks.Pipeline
	opts     Options
	logger   *zap.SugaredLogger
}

// New builds an engine. A nil registry selects schema.Default and a nil
// pipeline an empty one.
func New(registry *schema.Registry, drv driver.Driver, pipeline *hooks.Pipeline, logger *zap.SugaredLogger, opts ...Option) *Engine {
	logger = helpers.OrNop(logger)
	if registry == nil {
		registry = schema.Default
	}
	if pipeline == nil {
		pipeline = hooks.NewPipeline(logger)
	}
	o := Options{PopulateDepth: DefaultPopulateDepth}
	for _, fn := range opts {
		fn(&o)
	}
	return &Engine{
		registry: registry,
		driver:   drv,
		hooks:    pipeline,
		opts:     o,
		logger:   logger,
	}
}

func (e *Engine) Registry() *schema.Registry { return e.registry }
func (e *Engine) Driver() driver.Driver      { return e.driver }
func (e *Engine) Hooks() *hooks.Pipeline     { return e.hooks }

// Hook registers a blocking hook for a collection event.
func (e *Engine) Hook(collection, event string, fn hooks.HookFunc) {
	e.hooks.Hook(collection, event, fn)
}

// On registers a listener for a collection event.
func (e *Engine) On(collection, event string, fn hooks.ListenerFunc) {
	e.hooks.On(collection, event, fn)
}

// Close waits for pending listeners and closes the driver.
func (e *Engine) Close(ctx context.Context) error {
	e.hooks.Wait()
	return e.driver.Close(ctx)
}
