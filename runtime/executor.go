package runtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/dagflow/metrics"
	"github.com/warriorguo/dagflow/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/warriorguo/dagflow/runtime"

/**
 * Executor runs one workflow graph at a time per run id. Nodes of a run
 * are executed strictly one after another in the order returned by Order;
 * the first failure halts the run.
 */
type Executor struct {
	resolver types.Resolver
	opts     *types.ExecutorOptions
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	now func() time.Time
}

func NewExecutor(resolver types.Resolver, opts *types.ExecutorOptions) (*Executor, error) {
	if resolver == nil {
		return nil, errors.NotValidf("nil resolver")
	}
	if opts == nil {
		opts = types.NewExecutorOptions()
	}

	e := &Executor{
		resolver: resolver,
		opts:     opts,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	if opts.MetricsRegisterer != nil {
		m, err := metrics.New(opts.MetricsRegisterer)
		if err != nil {
			return nil, errors.Trace(err)
		}
		e.metrics = m
	}
	return e, nil
}

func (e *Executor) Resolver() types.Resolver {
	return e.resolver
}

func (e *Executor) Options() *types.ExecutorOptions {
	return e.opts
}

// NewRunID returns "<RunIDPrefix>-<uuid>".
func (e *Executor) NewRunID() string {
	return e.opts.RunIDPrefix + "-" + uuid.NewString()
}

// Execute runs graph under a fresh run id. See ExecuteRun.
func (e *Executor) Execute(ctx context.Context, graph *types.Graph, inputs map[string]*types.File) (*types.RunResult, error) {
	return e.ExecuteRun(ctx, e.NewRunID(), graph, inputs)
}

// ExecuteRun validates graph and runs it under runID. A validation failure
// returns a nil result and a *types.GraphValidationError, no function is
// called. A run id already in the history is rejected with an AlreadyExists
// error unless the executor resumes runs. Any later failure returns the
// result so far together with a *types.WorkflowExecutionError.
func (e *Executor) ExecuteRun(ctx context.Context, runID string, graph *types.Graph, inputs map[string]*types.File) (*types.RunResult, error) {
	if runID == "" {
		return nil, errors.NotValidf("empty run id")
	}
	order, err := plan(graph)
	if err != nil {
		log.WithField("run_id", runID).Errorf("reject graph: %v", err)
		return nil, err
	}
	run := newWorkflowRun(e, runID, graph, order, inputs)
	done, err := run.prepare(ctx)
	if err != nil {
		run.logger.Errorf("reject run: %v", err)
		return nil, err
	}
	if done {
		run.logger.Infof("run already completed")
		return run.result(), nil
	}
	return run.execute(ctx)
}

func (e *Executor) recorder() (types.Recorder, bool) {
	if !e.opts.RecordHistory {
		return nil, false
	}
	r, ok := e.resolver.(types.Recorder)
	return r, ok
}
