package schema

import (
	"sort"
	"sync"

	"syndrodm/src/odmerr"
)

// DefaultMaxDepth caps sub-document nesting for declaration and foreign-key
// extraction.
const DefaultMaxDepth = 32

// Registry holds the declared schemas of a process. Declarations happen at
// startup; lookups afterwards are read-only.
type Registry struct {
	mu       sync.RWMutex
	schemas  map[string]*Schema
	maxDepth int
}

type RegistryOption func(*Registry)

func WithMaxDepth(depth int) RegistryOption {
	return func(r *Registry) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		schemas:  make(map[string]*Schema),
		maxDepth: DefaultMaxDepth,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Declare registers a schema for a collection. Reference targets are not
// checked here so collections may reference each other in any order.
func (r *Registry) Declare(name string, fields ...*Field) (*Schema, error) {
	if name == "" {
		return nil, odmerr.New(odmerr.KindInvalidCollection, "declare", name, "", "collection name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schemas[name]; exists {
		return nil, odmerr.New(odmerr.KindDuplicateSchema, "declare", name, "", "collection already declared")
	}
	s, err := newSchema(name, fields, r.maxDepth)
	if err != nil {
		return nil, odmerr.Wrap(odmerr.KindValidation, "declare", name, err)
	}
	r.schemas[name] = s
	return s, nil
}

// DeclareSpec declares a collection from its file representation.
func (r *Registry) DeclareSpec(name string, spec FieldSpecs) (*Schema, error) {
	fields, err := spec.Fields()
	if err != nil {
		return nil, odmerr.Wrap(odmerr.KindValidation, "declare", name, err)
	}
	return r.Declare(name, fields...)
}

// Resolve returns the schema declared for name.
func (r *Registry) Resolve(name string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	if !ok {
		return nil, odmerr.New(odmerr.KindInvalidCollection, "resolve", name, "", "collection is not declared")
	}
	return s, nil
}

// Names lists the declared collections, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Default is the process-wide registry used by the package-level helpers.
var Default = NewRegistry()

func Declare(name string, fields ...*Field) (*Schema, error) {
	return Default.Declare(name, fields...)
}

func Resolve(name string) (*Schema, error) {
	return Default.Resolve(name)
}
