package runtime

import (
	"context"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/dagflow/types"
	"github.com/warriorguo/dagflow/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// runNode drives one node through READY and RUNNING to COMPLETED or
// FAILED. Outputs are committed to the run only when every port was saved.
func (r *workflowRun) runNode(ctx context.Context, node *types.Node) (retErr error) {
	logger := r.logger.WithFields(log.Fields{"node_id": node.ID, "node_type": node.Type})
	ctx, span := r.e.tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("run.id", r.runID),
		attribute.String("node.id", node.ID),
		attribute.String("node.type", node.Type),
	))
	defer span.End()

	if err := r.checkReady(node); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	r.setNodeState(node.ID, types.NodeReady)

	record := &types.NodeTraceRecord{
		RunID:     r.runID,
		NodeID:    node.ID,
		NodeType:  node.Type,
		StartTime: r.e.now(),
	}
	r.setNodeState(node.ID, types.NodeRunning)

	defer func() {
		record.EndTime = r.e.now()
		if retErr != nil {
			r.setNodeState(node.ID, types.NodeFailed)
			record.Error = retErr.Error()
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
			logger.Errorf("node failed: %v", retErr)
		} else {
			logger.Debugf("node completed in %v", record.EndTime.Sub(record.StartTime))
		}
		record.State = r.nodeStates[node.ID]
		r.e.metrics.NodeFinished(node.Type, record.State, record.EndTime.Sub(record.StartTime))
		r.recordNode(ctx, record)
	}()

	inputs, err := r.gatherInputs(ctx, node)
	if err != nil {
		return err
	}
	record.Inputs = refsOf(inputs)

	fn, err := r.e.resolver.GetFunction(ctx, node.Type)
	if err != nil {
		return err
	}
	config, err := r.e.resolver.GetConfig(ctx, node)
	if err != nil {
		return err
	}

	outputs, err := r.invoke(ctx, fn, node, inputs, config)
	if err != nil {
		return err
	}

	ports, err := r.persist(ctx, node, outputs)
	if err != nil {
		return err
	}
	record.Outputs = make(map[string]types.FileRef, len(ports))
	for port, data := range ports {
		record.Outputs[port] = types.RefOf(data.File)
	}

	r.setNodeState(node.ID, types.NodeCompleted)
	r.committed[node.ID] = ports
	return nil
}

// checkReady holds as long as nodes run in plan order.
func (r *workflowRun) checkReady(node *types.Node) error {
	for _, e := range r.graph.IncomingEdges(node.ID) {
		if r.nodeStates[e.SourceNode] != types.NodeCompleted {
			return &types.MissingInputError{NodeID: node.ID, Port: e.TargetPort}
		}
	}
	return nil
}

func (r *workflowRun) gatherInputs(ctx context.Context, node *types.Node) (types.Inputs, error) {
	inputs := make(types.Inputs, len(node.Inputs))
	for _, port := range node.Inputs {
		file, err := r.resolveInput(ctx, node, port)
		if err != nil {
			return nil, err
		}
		if file != nil {
			inputs[port.Name] = file
		}
	}
	return inputs, nil
}

// resolveInput returns a nil file for an optional port that has no value.
func (r *workflowRun) resolveInput(ctx context.Context, node *types.Node, port *types.Port) (*types.File, error) {
	for _, ie := range r.graph.InputEdges {
		if ie.TargetNode != node.ID || ie.TargetPort != port.Name {
			continue
		}
		file := r.inputs[ie.Input]
		if file == nil {
			if port.Optional {
				return nil, nil
			}
			return nil, &types.MissingInputError{NodeID: node.ID, Port: port.Name, Input: ie.Input}
		}
		if !port.Accepts(file.MIMEType) {
			return nil, &types.TypeMismatchError{
				Produced:   []string{file.MIMEType},
				TargetNode: node.ID,
				TargetPort: port.Name,
				Accepted:   port.MIMETypes,
			}
		}
		return file, nil
	}

	for _, e := range r.graph.IncomingEdges(node.ID) {
		if e.TargetPort != port.Name {
			continue
		}
		// only what the source committed in this run is visible, whatever
		// else the store still holds under the run id
		if _, committed := r.committed[e.SourceNode][e.SourcePort]; !committed {
			if port.Optional {
				return nil, nil
			}
			return nil, &types.DataNotFoundError{RunID: r.runID, NodeID: e.SourceNode, Port: e.SourcePort}
		}
		data, err := r.e.resolver.GetInputData(ctx, r.runID, e.SourceNode, e.SourcePort, port.MIMETypes)
		if err != nil {
			var dnf *types.DataNotFoundError
			if port.Optional && errors.As(err, &dnf) {
				return nil, nil
			}
			var tme *types.TypeMismatchError
			if errors.As(err, &tme) && tme.TargetNode == "" {
				tme.TargetNode, tme.TargetPort = node.ID, port.Name
			}
			return nil, err
		}
		if data == nil || data.File == nil {
			return nil, &types.DataNotFoundError{RunID: r.runID, NodeID: e.SourceNode, Port: e.SourcePort}
		}
		if !port.Accepts(data.File.MIMEType) {
			return nil, &types.TypeMismatchError{
				SourceNode: e.SourceNode,
				SourcePort: e.SourcePort,
				Produced:   []string{data.File.MIMEType},
				TargetNode: node.ID,
				TargetPort: port.Name,
				Accepted:   port.MIMETypes,
			}
		}
		return data.File, nil
	}

	if port.Optional {
		return nil, nil
	}
	return nil, &types.MissingInputError{NodeID: node.ID, Port: port.Name}
}

func (r *workflowRun) invoke(ctx context.Context, fn types.Function, node *types.Node, inputs types.Inputs, config types.Data) (outputs types.Outputs, retErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			retErr = &types.NodeExecutionError{NodeID: node.ID, Err: errors.Errorf("panic: %v", rec)}
		}
	}()

	outputs, err := fn(newNodeContext(ctx, r.runID, node), inputs, config)
	if err != nil {
		return nil, &types.NodeExecutionError{NodeID: node.ID, Err: err}
	}
	return outputs, nil
}

func payloadMIME(port *types.Port, payload types.Payload) (string, error) {
	if payload.MIMEType == "" {
		if len(port.MIMETypes) != 1 {
			return "", errors.NotValidf("payload for port %q without MIME type, port declares %v", port.Name, port.MIMETypes)
		}
		return types.NormalizeMIME(port.MIMETypes[0]), nil
	}
	if !port.Accepts(payload.MIMEType) {
		return "", errors.NotValidf("MIME type %q on port %q, port declares %v", payload.MIMEType, port.Name, port.MIMETypes)
	}
	return types.NormalizeMIME(payload.MIMEType), nil
}

// persist checks every payload before saving any of them, then saves in
// port declaration order.
func (r *workflowRun) persist(ctx context.Context, node *types.Node, outputs types.Outputs) (types.PortOutputs, error) {
	files := make(map[string]*types.File, len(outputs))
	for _, name := range utils.SortedKeys(outputs) {
		port, exists := node.OutputPort(name)
		if !exists {
			return nil, &types.NodeExecutionError{NodeID: node.ID, Err: errors.NotFoundf("output port %q", name)}
		}
		mimeType, err := payloadMIME(port, outputs[name])
		if err != nil {
			return nil, &types.NodeExecutionError{NodeID: node.ID, Err: err}
		}
		files[name] = types.NewFile(mimeType, outputs[name].Content)
	}

	ports := make(types.PortOutputs, len(files))
	for _, port := range node.Outputs {
		file, exists := files[port.Name]
		if !exists {
			continue
		}
		data := types.NewFileExecutionData(r.runID, node, port.Name, file, r.e.now())
		if err := r.e.resolver.SaveOutput(ctx, r.runID, node.ID, port.Name, data); err != nil {
			return nil, err
		}
		ports[port.Name] = data
	}
	return ports, nil
}

func (r *workflowRun) recordNode(ctx context.Context, record *types.NodeTraceRecord) {
	recorder, ok := r.e.recorder()
	if !ok {
		return
	}
	if err := recorder.RecordNode(context.WithoutCancel(ctx), record); err != nil {
		r.logger.WithField("node_id", record.NodeID).Errorf("failed to save node record: %v", err)
	}
}

func refsOf(inputs types.Inputs) map[string]types.FileRef {
	refs := make(map[string]types.FileRef, len(inputs))
	for port, f := range inputs {
		refs[port] = types.RefOf(f)
	}
	return refs
}
