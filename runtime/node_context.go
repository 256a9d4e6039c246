package runtime

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/dagflow/types"
)

var (
	_ types.Context = &nodeContext{}
)

type nodeContext struct {
	context.Context

	runID  string
	nodeID string
	logger *log.Entry
}

func newNodeContext(ctx context.Context, runID string, node *types.Node) *nodeContext {
	return &nodeContext{
		Context: ctx,
		runID:   runID,
		nodeID:  node.ID,
		logger: log.WithFields(log.Fields{
			"run_id":    runID,
			"node_id":   node.ID,
			"node_type": node.Type,
		}),
	}
}

func (n *nodeContext) GetRunID() string {
	return n.runID
}

func (n *nodeContext) GetNodeID() string {
	return n.nodeID
}

func (n *nodeContext) Logger() *log.Entry {
	return n.logger
}
