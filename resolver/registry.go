package resolver

import (
	"sync"

	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/types"
	"github.com/warriorguo/dagflow/utils"
)

type functionEntry struct {
	fn       types.Function
	defaults types.Data
	schema   ConfigSchema
}

type FunctionOption func(*functionEntry)

// WithDefaults sets config values used when a node does not set them.
func WithDefaults(d types.Data) FunctionOption {
	return func(e *functionEntry) {
		e.defaults = d.Clone()
	}
}

func WithSchema(s ConfigSchema) FunctionOption {
	return func(e *functionEntry) {
		e.schema = s
	}
}

/**
 * Registry maps a node type to its function. It is built explicitly
 * at startup and handed to the resolver, there is no package level
 * registry.
 */
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]*functionEntry
	middlewares []Middleware
}

// Middleware wraps the function of a node type at lookup time.
type Middleware func(nodeType string, next types.Function) types.Function

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*functionEntry)}
}

func (r *Registry) Register(nodeType string, fn types.Function, opts ...FunctionOption) error {
	if nodeType == "" {
		return errors.NotValidf("empty node type")
	}
	if fn == nil {
		return errors.NotValidf("nil function for %s", nodeType)
	}

	e := &functionEntry{fn: fn}
	for _, opt := range opts {
		opt(e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[nodeType]; exists {
		return errors.AlreadyExistsf("node type %s", nodeType)
	}
	r.entries[nodeType] = e
	return nil
}

func (r *Registry) entry(nodeType string) (*functionEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[nodeType]
	if !exists {
		return nil, &types.FunctionNotFoundError{NodeType: nodeType}
	}
	return e, nil
}

// Use appends mw, the last one added runs outermost.
func (r *Registry) Use(mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.middlewares = append(r.middlewares, mw)
}

// Lookup fails with *types.FunctionNotFoundError.
func (r *Registry) Lookup(nodeType string) (types.Function, error) {
	e, err := r.entry(nodeType)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	fn := e.fn
	for _, mw := range r.middlewares {
		fn = mw(nodeType, fn)
	}
	return fn, nil
}

// Types lists the registered node types in ascending order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return utils.SortedKeys(r.entries)
}
