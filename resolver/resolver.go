package resolver

import (
	"context"
	"strings"

	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/store"
	"github.com/warriorguo/dagflow/types"
	"github.com/warriorguo/dagflow/utils"
)

const (
	DataPath   = "/data/"
	RecordPath = "/record/"
	RunPath    = "/run/"
)

var (
	_ types.Resolver = &StoreResolver{}
	_ types.Recorder = &StoreResolver{}
)

func dataPrefix(runID string) string {
	return DataPath + runID + "/"
}

func dataKey(nodeID, port string) string {
	return nodeID + "/" + port
}

// splitDataKey cuts at the last slash, port names never hold one.
func splitDataKey(key string) (string, string, bool) {
	i := strings.LastIndexByte(key, '/')
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// definitionPrefix sits under RunPath but never collides with the run
// records themselves, those are keyed directly in RunPath.
func definitionPrefix(runID string) string {
	return RunPath + runID + "/"
}

func recordPrefix(runID string) string {
	return RecordPath + runID + "/"
}

// StoreResolver resolves functions from a Registry and keeps every
// FileExecutionData as one JSON value in a store.Store.
type StoreResolver struct {
	store    store.Store
	registry *Registry
	defaults types.Data
}

// NewStoreResolver takes defaults that sit under every function's own
// defaults and the node's config.
func NewStoreResolver(s store.Store, registry *Registry, defaults types.Data) *StoreResolver {
	if registry == nil {
		registry = NewRegistry()
	}
	return &StoreResolver{
		store:    s,
		registry: registry,
		defaults: defaults.Clone(),
	}
}

func (r *StoreResolver) Registry() *Registry {
	return r.registry
}

func (r *StoreResolver) Store() store.Store {
	return r.store
}

func (r *StoreResolver) GetFunction(ctx context.Context, nodeType string) (types.Function, error) {
	return r.registry.Lookup(nodeType)
}

// GetConfig merges resolver defaults, function defaults and node config in
// that order, then applies the function's schema.
func (r *StoreResolver) GetConfig(ctx context.Context, node *types.Node) (types.Data, error) {
	e, err := r.registry.entry(node.Type)
	if err != nil {
		return nil, err
	}
	merged := r.defaults.Merge(e.defaults, node.Config)
	if e.schema == nil {
		return merged, nil
	}
	return e.schema.Apply(node.ID, merged)
}

func (r *StoreResolver) GetInputData(ctx context.Context, runID, sourceNodeID, sourcePort string, accepted []string) (*types.FileExecutionData, error) {
	b, err := r.store.Get(ctx, dataPrefix(runID), dataKey(sourceNodeID, sourcePort))
	if err != nil {
		return nil, &types.StorageError{Op: "get", RunID: runID, NodeID: sourceNodeID, Port: sourcePort, Err: err}
	}
	if b == nil {
		return nil, &types.DataNotFoundError{RunID: runID, NodeID: sourceNodeID, Port: sourcePort}
	}

	data := &types.FileExecutionData{}
	if err := utils.Unserialize(b, data); err != nil {
		return nil, &types.StorageError{Op: "decode", RunID: runID, NodeID: sourceNodeID, Port: sourcePort, Err: err}
	}
	if data.File == nil {
		return nil, &types.StorageError{Op: "decode", RunID: runID, NodeID: sourceNodeID, Port: sourcePort,
			Err: errors.NotValidf("record without file")}
	}

	if len(accepted) > 0 {
		port := &types.Port{MIMETypes: accepted}
		if !port.Accepts(data.File.MIMEType) {
			return nil, &types.TypeMismatchError{
				SourceNode: sourceNodeID,
				SourcePort: sourcePort,
				Produced:   []string{data.File.MIMEType},
				Accepted:   accepted,
			}
		}
	}
	return data, nil
}

func (r *StoreResolver) SaveOutput(ctx context.Context, runID, nodeID, port string, data *types.FileExecutionData) error {
	if data == nil || data.File == nil {
		return &types.StorageError{Op: "encode", RunID: runID, NodeID: nodeID, Port: port,
			Err: errors.NotValidf("empty execution data")}
	}
	b, err := utils.Serialize(data)
	if err != nil {
		return &types.StorageError{Op: "encode", RunID: runID, NodeID: nodeID, Port: port, Err: err}
	}
	if err := r.store.Set(ctx, dataPrefix(runID), dataKey(nodeID, port), b); err != nil {
		return &types.StorageError{Op: "set", RunID: runID, NodeID: nodeID, Port: port, Err: err}
	}
	return nil
}
