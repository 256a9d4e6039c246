package types

import "context"

// Inputs maps input port -> file handed to a function.
type Inputs map[string]*File

// Payload is what a function produces for one output port. An empty
// MIMEType means the port's single declared type.
type Payload struct {
	MIMEType string
	Content  []byte
}

type Outputs map[string]Payload

// Function implements a node type. It must not keep references to inputs
// after it returns.
type Function func(ctx Context, inputs Inputs, config Data) (Outputs, error)

// Resolver is the only way the executor reaches storage and function
// lookup. Every call may block on I/O; none is assumed idempotent.
type Resolver interface {
	// GetFunction fails with *FunctionNotFoundError.
	GetFunction(ctx context.Context, nodeType string) (Function, error)
	// GetConfig returns node.Config merged over resolver defaults, and fails
	// with *ConfigError on schema violation.
	GetConfig(ctx context.Context, node *Node) (Data, error)
	// GetInputData fails with *DataNotFoundError when nothing was saved for
	// (runID, sourceNodeID, sourcePort), and with *TypeMismatchError when the
	// saved MIME type is outside accepted.
	GetInputData(ctx context.Context, runID, sourceNodeID, sourcePort string, accepted []string) (*FileExecutionData, error)
	// SaveOutput fails with *StorageError.
	SaveOutput(ctx context.Context, runID, nodeID, port string, data *FileExecutionData) error
}

// Recorder is optionally implemented by a Resolver that keeps run history.
type Recorder interface {
	RecordNode(ctx context.Context, record *NodeTraceRecord) error
	RecordRun(ctx context.Context, record *RunRecord) error
	// RecordDefinition keeps the graph and inputs a run was started with.
	RecordDefinition(ctx context.Context, runID string, def *RunDefinition) error

	// LoadRun fails with an error satisfying errors.Is(err, errors.NotFound)
	// when runID was never recorded.
	LoadRun(ctx context.Context, runID string) (*RunRecord, map[string]*NodeTraceRecord, error)
	LoadDefinition(ctx context.Context, runID string) (*RunDefinition, error)
}
