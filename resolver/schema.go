package resolver

import (
	"fmt"

	"github.com/spf13/cast"
	"github.com/warriorguo/dagflow/types"
	"github.com/warriorguo/dagflow/utils"
)

type Kind string

const (
	KindAny         Kind = ""
	KindString      Kind = "string"
	KindInt         Kind = "int"
	KindFloat       Kind = "float"
	KindBool        Kind = "bool"
	KindStringSlice Kind = "[]string"
)

type Field struct {
	Kind     Kind
	Required bool
}

// ConfigSchema describes the config keys a function understands. Keys not
// in the schema pass through untouched.
type ConfigSchema map[string]Field

// Apply checks config against the schema and returns a copy where every
// declared key holds a value of its declared kind.
func (s ConfigSchema) Apply(nodeID string, config types.Data) (types.Data, error) {
	out := config.Clone()
	if out == nil {
		out = types.Data{}
	}
	for _, key := range utils.SortedKeys(s) {
		field := s[key]
		v, exists := out[key]
		if !exists || v == nil {
			if field.Required {
				return nil, &types.ConfigError{NodeID: nodeID, Key: key, Reason: "required"}
			}
			continue
		}
		coerced, err := coerce(field.Kind, v)
		if err != nil {
			return nil, &types.ConfigError{
				NodeID: nodeID,
				Key:    key,
				Reason: fmt.Sprintf("want %s: %v", field.Kind, err),
			}
		}
		out[key] = coerced
	}
	return out, nil
}

func coerce(kind Kind, v any) (any, error) {
	switch kind {
	case KindString:
		return cast.ToStringE(v)
	case KindInt:
		return cast.ToIntE(v)
	case KindFloat:
		return cast.ToFloat64E(v)
	case KindBool:
		return cast.ToBoolE(v)
	case KindStringSlice:
		return cast.ToStringSliceE(v)
	default:
		return v, nil
	}
}
