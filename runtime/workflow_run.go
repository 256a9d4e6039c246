package runtime

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/dagflow/types"
	"github.com/warriorguo/dagflow/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// workflowRun is the state of one execution. It is owned by a single
// goroutine and needs no locking.
type workflowRun struct {
	e *Executor

	runID  string
	graph  *types.Graph
	order  []string
	inputs map[string]*types.File

	state      types.WorkflowState
	nodeStates map[string]types.NodeState
	committed  types.RunOutputs
	resumed    []string

	startTime time.Time
	logger    *log.Entry
}

func newWorkflowRun(e *Executor, runID string, graph *types.Graph, order []string, inputs map[string]*types.File) *workflowRun {
	r := &workflowRun{
		e:          e,
		runID:      runID,
		graph:      graph,
		order:      order,
		inputs:     inputs,
		state:      types.WorkflowNotStarted,
		nodeStates: make(map[string]types.NodeState, len(order)),
		committed:  make(types.RunOutputs),
		logger:     log.WithField("run_id", runID),
	}
	for _, id := range order {
		r.nodeStates[id] = types.NodePending
	}
	return r
}

func (r *workflowRun) setState(next types.WorkflowState) {
	if !r.state.CanTransit(next) {
		panic(fmt.Sprintf("run %s: illegal transition %v -> %v", r.runID, r.state, next))
	}
	r.state = next
}

func (r *workflowRun) setNodeState(nodeID string, next types.NodeState) {
	current := r.nodeStates[nodeID]
	if !current.CanTransit(next) {
		panic(fmt.Sprintf("run %s node %s: illegal transition %v -> %v", r.runID, nodeID, current, next))
	}
	r.nodeStates[nodeID] = next
	r.logger.WithField("node_id", nodeID).Debugf("%v -> %v", current, next)
}

func (r *workflowRun) execute(ctx context.Context) (*types.RunResult, error) {
	ctx, span := r.e.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("run.id", r.runID),
		attribute.String("graph.version", r.graph.Version),
		attribute.Int("graph.nodes", len(r.graph.Nodes)),
	))
	defer span.End()

	r.setState(types.WorkflowRunning)
	r.startTime = r.e.now()
	r.e.metrics.RunStarted()
	r.logger.Infof("run started, order: %v", r.order)

	for _, nodeID := range r.order {
		if r.nodeStates[nodeID] == types.NodeCompleted {
			continue
		}
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, span, nodeID, err)
		}
		node, _ := r.graph.Node(nodeID)
		if err := r.runNode(ctx, node); err != nil {
			return r.fail(ctx, span, nodeID, err)
		}
	}

	r.setState(types.WorkflowCompleted)
	r.finish(ctx, "", nil)
	span.SetStatus(codes.Ok, "")
	r.logger.Infof("run completed in %v", r.e.now().Sub(r.startTime))
	return r.result(), nil
}

func (r *workflowRun) fail(ctx context.Context, span trace.Span, nodeID string, cause error) (*types.RunResult, error) {
	r.setState(types.WorkflowFailed)
	r.finish(ctx, nodeID, cause)

	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	r.logger.WithField("node_id", nodeID).Errorf("run halted: %v", cause)

	return r.result(), &types.WorkflowExecutionError{
		RunID:   r.runID,
		NodeID:  nodeID,
		Err:     cause,
		Partial: r.committed.Clone(),
	}
}

func (r *workflowRun) finish(ctx context.Context, failedNode string, cause error) {
	end := r.e.now()
	r.e.metrics.RunFinished(r.state, end.Sub(r.startTime))

	recorder, ok := r.e.recorder()
	if !ok {
		return
	}
	record := &types.RunRecord{
		RunID:      r.runID,
		State:      r.state,
		Order:      r.order,
		StartTime:  r.startTime,
		EndTime:    end,
		FailedNode: failedNode,
		Resumed:    r.resumed,
	}
	if cause != nil {
		record.Error = cause.Error()
	}
	// history is best effort, it never changes the outcome of a run
	if err := recorder.RecordRun(context.WithoutCancel(ctx), record); err != nil {
		r.logger.Errorf("failed to save run record: %v", err)
	}
}

func (r *workflowRun) result() *types.RunResult {
	res := &types.RunResult{
		RunID:      r.runID,
		State:      r.state,
		Order:      r.order,
		NodeStates: utils.CloneMap(r.nodeStates),
		Outputs:    make(types.RunOutputs),
		Committed:  r.committed.Clone(),
		Resumed:    r.resumed,
	}
	for nodeID, ports := range res.Committed {
		if r.graph.IsTerminal(nodeID) {
			res.Outputs[nodeID] = ports
		}
	}
	return res
}
