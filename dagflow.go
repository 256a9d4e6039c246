package dagflow

import (
	"context"
	"io"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/dagflow/functions"
	"github.com/warriorguo/dagflow/resolver"
	"github.com/warriorguo/dagflow/runtime"
	"github.com/warriorguo/dagflow/store"
	"github.com/warriorguo/dagflow/store/local"
	"github.com/warriorguo/dagflow/store/mem"
	"github.com/warriorguo/dagflow/store/postgres"
	"github.com/warriorguo/dagflow/types"
)

// Engine is an executor wired to a store backed resolver whose registry
// already holds the builtin functions.
type Engine struct {
	*runtime.Executor

	resolver *resolver.StoreResolver
	store    store.Store
}

// NewExecutor creates an engine with the given options
func NewExecutor(opts ...types.ExecutorOption) (*Engine, error) {
	return NewExecutorContext(context.Background(), opts...)
}

// NewExecutorContext is NewExecutor with ctx bounding the store setup.
func NewExecutorContext(ctx context.Context, opts ...types.ExecutorOption) (*Engine, error) {
	options := types.NewExecutorOptions()
	for _, opt := range opts {
		opt(options)
	}

	s, err := openStore(ctx, options)
	if err != nil {
		return nil, errors.Trace(err)
	}

	registry := resolver.NewRegistry()
	if err := functions.RegisterBuiltins(registry); err != nil {
		return nil, errors.Trace(err)
	}
	r := resolver.NewStoreResolver(s, registry, options.ConfigDefaults)

	e, err := runtime.NewExecutor(r, options)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Engine{Executor: e, resolver: r, store: s}, nil
}

// openStore picks postgres, then the local directory, then memory.
func openStore(ctx context.Context, options *types.ExecutorOptions) (store.Store, error) {
	switch {
	case options.PostgresConfig != nil:
		s, err := postgres.NewPostgresStore(ctx, postgres.FromOptions(options.PostgresConfig))
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create PostgreSQL store")
		}
		return s, nil
	case options.LocalDir != "":
		s, err := local.NewLocalStore(options.LocalDir)
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create local store at %s", options.LocalDir)
		}
		return s, nil
	default:
		if !options.MemStore {
			log.Debugf("no store configured, falling back to memory")
		}
		return mem.NewMemStore(), nil
	}
}

// Registry is where custom node types are registered.
func (e *Engine) Registry() *resolver.Registry {
	return e.resolver.Registry()
}

// History gives access to run records and persisted outputs.
func (e *Engine) History() *resolver.StoreResolver {
	return e.resolver
}

func (e *Engine) Store() store.Store {
	return e.store
}

// NewBatchRunner runs independent jobs on this engine.
func (e *Engine) NewBatchRunner() *runtime.BatchRunner {
	return runtime.NewBatchRunner(e.Executor)
}

// Close releases the store if it holds resources.
func (e *Engine) Close() error {
	if c, ok := e.store.(io.Closer); ok {
		return errors.Trace(c.Close())
	}
	return nil
}
