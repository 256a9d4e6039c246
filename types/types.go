package types

import (
	"context"

	log "github.com/sirupsen/logrus"
)

type NodeState int32

const (
	NodePending   NodeState = 0
	NodeReady     NodeState = 1
	NodeRunning   NodeState = 2
	NodeCompleted NodeState = 3
	NodeFailed    NodeState = 9
)

func (s NodeState) String() string {
	switch s {
	case NodePending:
		return "PENDING"
	case NodeReady:
		return "READY"
	case NodeRunning:
		return "RUNNING"
	case NodeCompleted:
		return "COMPLETED"
	case NodeFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// CanTransit reports whether a node may move from s to next.
// PENDING -> READY -> RUNNING -> COMPLETED | FAILED, nothing else.
func (s NodeState) CanTransit(next NodeState) bool {
	switch next {
	case NodeReady:
		return s == NodePending
	case NodeRunning:
		return s == NodeReady
	case NodeCompleted, NodeFailed:
		return s == NodeRunning
	default:
		return false
	}
}

type WorkflowState int32

const (
	WorkflowNotStarted WorkflowState = 0
	WorkflowRunning    WorkflowState = 1
	WorkflowCompleted  WorkflowState = 2
	WorkflowFailed     WorkflowState = 9
)

func (s WorkflowState) String() string {
	switch s {
	case WorkflowNotStarted:
		return "NOT_STARTED"
	case WorkflowRunning:
		return "RUNNING"
	case WorkflowCompleted:
		return "COMPLETED"
	case WorkflowFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

func (s WorkflowState) CanTransit(next WorkflowState) bool {
	switch next {
	case WorkflowRunning:
		return s == WorkflowNotStarted
	case WorkflowCompleted, WorkflowFailed:
		return s == WorkflowRunning
	default:
		return false
	}
}

// Context is what a node function sees while it runs.
type Context interface {
	context.Context

	GetRunID() string
	GetNodeID() string
	Logger() *log.Entry
}
