package types

import (
	"encoding/json"

	"github.com/juju/errors"
	"github.com/spf13/cast"
)

// Data is an opaque key-value blob. It carries node configuration and the
// metadata attached to every FileExecutionData.
type Data map[string]any

func (d Data) Get(key string) (any, bool) {
	v, exists := d[key]
	return v, exists
}

func (d Data) GetString(key string) (string, bool) {
	v, exists := d.Get(key)
	return cast.ToString(v), exists
}

func (d Data) GetInt(key string) (int, bool) {
	v, exists := d.Get(key)
	return cast.ToInt(v), exists
}

func (d Data) GetInt64(key string) (int64, bool) {
	v, exists := d.Get(key)
	return cast.ToInt64(v), exists
}

func (d Data) GetBool(key string) (bool, bool) {
	v, exists := d.Get(key)
	return cast.ToBool(v), exists
}

func (d Data) GetFloat64(key string) (float64, bool) {
	v, exists := d.Get(key)
	return cast.ToFloat64(v), exists
}

func (d Data) GetStringSlice(key string) ([]string, bool) {
	v, exists := d.Get(key)
	return cast.ToStringSlice(v), exists
}

// GetStruct decodes the value stored under key into s by a JSON round trip.
func (d Data) GetStruct(key string, s any) error {
	v, exists := d.Get(key)
	if !exists {
		return errors.NotFoundf("key %q", key)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Annotatef(err, "marshal %q", key)
	}
	return errors.Trace(json.Unmarshal(b, s))
}

// Set mutates d in place. Only use it while building a blob, never on one
// that has been handed to the executor.
func (d Data) Set(key string, value any) {
	d[key] = value
}

// Clone returns a shallow copy, nil stays nil.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	c := make(Data, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

// Merge returns a new blob holding d overlaid by each of others in turn.
// Later blobs win on key collisions.
func (d Data) Merge(others ...Data) Data {
	merged := d.Clone()
	if merged == nil {
		merged = Data{}
	}
	for _, o := range others {
		for k, v := range o {
			merged[k] = v
		}
	}
	return merged
}
