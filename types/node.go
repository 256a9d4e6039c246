package types

import "time"

// FileRef is the content-free summary of a File kept in run history.
type FileRef struct {
	MIMEType string `json:",omitempty"`
	Size     int64
	Digest   string `json:",omitempty"`
}

func RefOf(f *File) FileRef {
	if f == nil {
		return FileRef{}
	}
	return FileRef{MIMEType: f.MIMEType, Size: f.Size, Digest: f.Digest}
}

type NodeTraceRecord struct {
	RunID     string
	NodeID    string
	NodeType  string
	State     NodeState
	StartTime time.Time
	EndTime   time.Time
	Error     string             `json:",omitempty"`
	Inputs    map[string]FileRef `json:",omitempty"`
	Outputs   map[string]FileRef `json:",omitempty"`
}

type RunRecord struct {
	RunID      string
	State      WorkflowState
	Order      []string
	StartTime  time.Time
	EndTime    time.Time
	FailedNode string `json:",omitempty"`
	Error      string `json:",omitempty"`
	// Resumed lists the nodes taken over from an earlier attempt.
	Resumed []string `json:",omitempty"`
}

// RunDefinition is what a run was started with.
type RunDefinition struct {
	Graph  *Graph
	Inputs map[string]*File `json:",omitempty"`
}

// RunResult is what Execute hands back, on success and on failure.
type RunResult struct {
	RunID      string
	State      WorkflowState
	Order      []string
	NodeStates map[string]NodeState
	// Outputs holds the ports of terminal nodes, those with no outgoing edge.
	Outputs RunOutputs
	// Committed holds every completed node's persisted outputs.
	Committed RunOutputs
	// Resumed lists the nodes whose outputs were loaded instead of computed.
	Resumed []string
}

// Output is a shortcut for Outputs[nodeID][port].
func (r *RunResult) Output(nodeID, port string) (*FileExecutionData, bool) {
	ports, exists := r.Outputs[nodeID]
	if !exists {
		return nil, false
	}
	d, exists := ports[port]
	return d, exists
}
