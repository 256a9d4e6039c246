package runtime

import (
	"context"
	"slices"

	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/types"
)

/**
 * prepare looks runID up in the history before anything runs.
 * A new run id gets its definition recorded. A recorded one is rejected,
 * or with Resume the completed prefix of the earlier attempt is restored
 * so execution carries on from the first node that did not complete.
 * It reports whether the run was already complete.
 */
func (r *workflowRun) prepare(ctx context.Context) (bool, error) {
	recorder, ok := r.e.recorder()
	if !ok || ctx.Err() != nil {
		// a cancelled run is reported by execute before its first node
		return false, nil
	}

	prev, records, err := recorder.LoadRun(ctx, r.runID)
	if errors.Is(err, errors.NotFound) {
		r.recordDefinition(ctx, recorder)
		return false, nil
	}
	if err != nil {
		return false, errors.Annotatef(err, "look up run %s", r.runID)
	}
	if !r.e.opts.Resume {
		return false, errors.AlreadyExistsf("run %s", r.runID)
	}
	if !slices.Equal(prev.Order, r.order) {
		return false, errors.NotValidf("resume run %s with order %v, recorded %v", r.runID, r.order, prev.Order)
	}

	if r.inputs == nil {
		def, err := recorder.LoadDefinition(ctx, r.runID)
		if err != nil && !errors.Is(err, errors.NotFound) {
			return false, errors.Trace(err)
		}
		if def != nil {
			r.inputs = def.Inputs
		}
	}

	for _, nodeID := range r.order {
		record, exists := records[nodeID]
		if !exists || record.State != types.NodeCompleted {
			break
		}
		restored, err := r.restoreNode(ctx, nodeID, record)
		if err != nil {
			return false, err
		}
		if !restored {
			break
		}
	}
	r.logger.Infof("resume run, %d of %d nodes restored", len(r.resumed), len(r.order))

	if prev.State != types.WorkflowCompleted || len(r.resumed) != len(r.order) {
		return false, nil
	}
	r.setState(types.WorkflowRunning)
	r.setState(types.WorkflowCompleted)
	return true, nil
}

// restoreNode reloads every output the record lists. An output that is gone
// or whose digest changed makes the node run again.
func (r *workflowRun) restoreNode(ctx context.Context, nodeID string, record *types.NodeTraceRecord) (bool, error) {
	node, _ := r.graph.Node(nodeID)
	ports := make(types.PortOutputs, len(record.Outputs))
	for port, ref := range record.Outputs {
		if _, exists := node.OutputPort(port); !exists {
			r.logger.WithField("node_id", nodeID).Warnf("recorded port %s not declared, run node again", port)
			return false, nil
		}
		data, err := r.e.resolver.GetInputData(ctx, r.runID, nodeID, port, nil)
		if err != nil {
			var dnf *types.DataNotFoundError
			if errors.As(err, &dnf) {
				r.logger.WithField("node_id", nodeID).Warnf("output %s missing, run node again", port)
				return false, nil
			}
			return false, err
		}
		if data.File.Digest != ref.Digest {
			r.logger.WithField("node_id", nodeID).Warnf("output %s changed since recorded, run node again", port)
			return false, nil
		}
		ports[port] = data
	}

	r.setNodeState(nodeID, types.NodeReady)
	r.setNodeState(nodeID, types.NodeRunning)
	r.setNodeState(nodeID, types.NodeCompleted)
	r.committed[nodeID] = ports
	r.resumed = append(r.resumed, nodeID)
	return true, nil
}

func (r *workflowRun) recordDefinition(ctx context.Context, recorder types.Recorder) {
	def := &types.RunDefinition{Graph: r.graph, Inputs: r.inputs}
	if err := recorder.RecordDefinition(context.WithoutCancel(ctx), r.runID, def); err != nil {
		r.logger.Errorf("failed to save run definition: %v", err)
	}
}
