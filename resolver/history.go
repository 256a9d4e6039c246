package resolver

import (
	"context"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/dagflow/types"
	"github.com/warriorguo/dagflow/utils"
)

func (r *StoreResolver) RecordNode(ctx context.Context, record *types.NodeTraceRecord) error {
	b, err := utils.Serialize(record)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.store.Set(ctx, recordPrefix(record.RunID), record.NodeID, b))
}

func (r *StoreResolver) RecordRun(ctx context.Context, record *types.RunRecord) error {
	b, err := utils.Serialize(record)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.store.Set(ctx, RunPath, record.RunID, b))
}

const (
	workflowKey = "workflow.json"
	inputKey    = "input.json"
)

// RecordDefinition keeps graph and inputs apart, a definition without
// inputs still loads.
func (r *StoreResolver) RecordDefinition(ctx context.Context, runID string, def *types.RunDefinition) error {
	if def == nil || def.Graph == nil {
		return errors.NotValidf("empty definition for run %s", runID)
	}
	b, err := utils.Serialize(def.Graph)
	if err != nil {
		return errors.Trace(err)
	}
	if err := r.store.Set(ctx, definitionPrefix(runID), workflowKey, b); err != nil {
		return errors.Trace(err)
	}
	if len(def.Inputs) == 0 {
		return nil
	}
	if b, err = utils.Serialize(def.Inputs); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.store.Set(ctx, definitionPrefix(runID), inputKey, b))
}

func (r *StoreResolver) LoadDefinition(ctx context.Context, runID string) (*types.RunDefinition, error) {
	prefix := definitionPrefix(runID)
	b, err := r.store.Get(ctx, prefix, workflowKey)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if b == nil {
		return nil, errors.NotFoundf("definition of run %s", runID)
	}
	def := &types.RunDefinition{Graph: &types.Graph{}}
	if err := utils.Unserialize(b, def.Graph); err != nil {
		return nil, errors.Annotatef(err, "decode workflow of run %s", runID)
	}

	if b, err = r.store.Get(ctx, prefix, inputKey); err != nil {
		return nil, errors.Trace(err)
	}
	if b != nil {
		if err := utils.Unserialize(b, &def.Inputs); err != nil {
			return nil, errors.Annotatef(err, "decode inputs of run %s", runID)
		}
	}
	return def, nil
}

// LoadRun returns the run record and its node records keyed by node id.
func (r *StoreResolver) LoadRun(ctx context.Context, runID string) (*types.RunRecord, map[string]*types.NodeTraceRecord, error) {
	b, err := r.store.Get(ctx, RunPath, runID)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	if b == nil {
		return nil, nil, errors.NotFoundf("run %s", runID)
	}
	run := &types.RunRecord{}
	if err := utils.Unserialize(b, run); err != nil {
		return nil, nil, errors.Annotatef(err, "decode run %s", runID)
	}

	records, err := r.loadRecords(ctx, runID)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return run, records, nil
}

// loadRecords skips records that can not be read, a broken history entry
// never hides the rest.
func (r *StoreResolver) loadRecords(ctx context.Context, runID string) (map[string]*types.NodeTraceRecord, error) {
	records := make(map[string]*types.NodeTraceRecord)
	prefix := recordPrefix(runID)
	err := r.store.List(ctx, prefix, func(nodeID string) bool {
		b, err := r.store.Get(ctx, prefix, nodeID)
		if err != nil {
			log.Errorf("load %s %s from store failed: %v", prefix, nodeID, err)
			return true
		}
		record := &types.NodeTraceRecord{}
		if err := utils.Unserialize(b, record); err != nil {
			log.Errorf("unserialize %s %s from store:%s failed: %v", prefix, nodeID, string(b), err)
			return true
		}
		records[nodeID] = record
		return true
	})
	return records, errors.Trace(err)
}

// LoadOutputs reads back every output persisted for runID.
func (r *StoreResolver) LoadOutputs(ctx context.Context, runID string) (types.RunOutputs, error) {
	keys := make([]string, 0)
	prefix := dataPrefix(runID)
	if err := r.store.List(ctx, prefix, func(key string) bool {
		keys = append(keys, key)
		return true
	}); err != nil {
		return nil, errors.Trace(err)
	}

	outputs := make(types.RunOutputs)
	for _, key := range keys {
		nodeID, port, ok := splitDataKey(key)
		if !ok {
			log.Warnf("skip malformed data key %s%s", prefix, key)
			continue
		}
		data, err := r.GetInputData(ctx, runID, nodeID, port, nil)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if outputs[nodeID] == nil {
			outputs[nodeID] = make(types.PortOutputs)
		}
		outputs[nodeID][port] = data
	}
	return outputs, nil
}

// ListRuns returns the recorded run ids in ascending order.
func (r *StoreResolver) ListRuns(ctx context.Context) ([]string, error) {
	runIDs := make([]string, 0)
	err := r.store.List(ctx, RunPath, func(runID string) bool {
		runIDs = append(runIDs, runID)
		return true
	})
	return runIDs, errors.Trace(err)
}
