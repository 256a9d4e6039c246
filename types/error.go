package types

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

var (
	_ error = &GraphValidationError{}
	_ error = &UnknownNodeError{}
	_ error = &UnknownPortError{}
	_ error = &DuplicateNodeError{}
	_ error = &DuplicateEdgeError{}
	_ error = &CycleDetectedError{}
	_ error = &TypeMismatchError{}
	_ error = &FunctionNotFoundError{}
	_ error = &ConfigError{}
	_ error = &DataNotFoundError{}
	_ error = &StorageError{}
	_ error = &NodeExecutionError{}
	_ error = &MissingInputError{}
	_ error = &WorkflowExecutionError{}
	_ error = &DefinitionError{}
	_ error = &UnsupportedVersionError{}
)

// GraphValidationError wraps exactly one of the validation kinds below. It
// is returned before any node runs.
type GraphValidationError struct {
	Err error
}

func NewGraphValidationError(err error) error {
	return &GraphValidationError{Err: err}
}

func (e *GraphValidationError) Error() string {
	return "invalid workflow graph: " + e.Err.Error()
}

func (e *GraphValidationError) Unwrap() error {
	return e.Err
}

type UnknownNodeError struct {
	NodeID string
	// Ref is the edge that referenced the node, if any.
	Ref string
}

func (e *UnknownNodeError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("unknown node %q referenced by %s", e.NodeID, e.Ref)
	}
	return fmt.Sprintf("unknown node %q", e.NodeID)
}

type PortDirection string

const (
	DirectionInput  PortDirection = "input"
	DirectionOutput PortDirection = "output"
)

type UnknownPortError struct {
	NodeID    string
	Port      string
	Direction PortDirection
	Ref       string
}

func (e *UnknownPortError) Error() string {
	msg := fmt.Sprintf("node %q has no %s port %q", e.NodeID, e.Direction, e.Port)
	if e.Ref != "" {
		msg += " (referenced by " + e.Ref + ")"
	}
	return msg
}

type DuplicateNodeError struct {
	NodeID string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate node id %q", e.NodeID)
}

// DuplicateEdgeError means an input port has more than one producer.
type DuplicateEdgeError struct {
	NodeID string
	Port   string
	First  string
	Second string
}

func (e *DuplicateEdgeError) Error() string {
	return fmt.Sprintf("input %s.%s is wired twice: %s and %s", e.NodeID, e.Port, e.First, e.Second)
}

type CycleDetectedError struct {
	// Cycle lists one cycle, the first node is repeated at the end.
	Cycle []string
}

func (e *CycleDetectedError) Error() string {
	return "cycle detected: " + strings.Join(e.Cycle, " -> ")
}

// TypeMismatchError is raised at validation time for an edge, and at run
// time for data whose MIME type the requesting port does not accept.
type TypeMismatchError struct {
	SourceNode string `json:",omitempty"`
	SourcePort string `json:",omitempty"`
	Produced   []string
	TargetNode string
	TargetPort string
	Accepted   []string
}

func (e *TypeMismatchError) Error() string {
	source := "workflow input"
	if e.SourceNode != "" {
		source = e.SourceNode + "." + e.SourcePort
	}
	return fmt.Sprintf("type mismatch %s [%s] -> %s.%s [%s]", source,
		strings.Join(e.Produced, ","), e.TargetNode, e.TargetPort, strings.Join(e.Accepted, ","))
}

type FunctionNotFoundError struct {
	NodeType string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("no function registered for node type %q", e.NodeType)
}

type ConfigError struct {
	NodeID string
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config of node %q key %q: %s", e.NodeID, e.Key, e.Reason)
}

type DataNotFoundError struct {
	RunID  string
	NodeID string
	Port   string
}

func (e *DataNotFoundError) Error() string {
	return fmt.Sprintf("no data for %s.%s in run %q", e.NodeID, e.Port, e.RunID)
}

type StorageError struct {
	Op     string
	RunID  string
	NodeID string
	Port   string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s.%s in run %q: %v", e.Op, e.NodeID, e.Port, e.RunID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

type NodeExecutionError struct {
	NodeID string
	Err    error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q failed: %v", e.NodeID, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

type MissingInputError struct {
	NodeID string
	Port   string
	// Input is set when the port is bound to a workflow input.
	Input string `json:",omitempty"`
}

func (e *MissingInputError) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("missing workflow input %q for %s.%s", e.Input, e.NodeID, e.Port)
	}
	return fmt.Sprintf("missing input %s.%s", e.NodeID, e.Port)
}

// WorkflowExecutionError is returned when a run halts. Partial holds the
// outputs committed by every node that completed before NodeID failed.
type WorkflowExecutionError struct {
	RunID   string
	NodeID  string
	Err     error
	Partial RunOutputs
}

func (e *WorkflowExecutionError) Error() string {
	return fmt.Sprintf("run %q halted at node %q: %v", e.RunID, e.NodeID, e.Err)
}

func (e *WorkflowExecutionError) Unwrap() error {
	return e.Err
}

// DefinitionError is a schema violation in a workflow definition document.
type DefinitionError struct {
	Field  string
	Reason string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("workflow definition %s: %s", e.Field, e.Reason)
}

type UnsupportedVersionError struct {
	Version   string
	Supported string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported graph version %q, want %s", e.Version, e.Supported)
}

// IsGraphValidationError reports whether err, or anything it wraps, is a
// *GraphValidationError.
func IsGraphValidationError(err error) bool {
	var gve *GraphValidationError
	return errors.As(err, &gve)
}

// FailedNode returns the node id carried by a *WorkflowExecutionError in
// err's chain.
func FailedNode(err error) (string, bool) {
	var wee *WorkflowExecutionError
	if !errors.As(err, &wee) {
		return "", false
	}
	return wee.NodeID, true
}
