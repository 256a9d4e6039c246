package functions

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/cast"
	"github.com/warriorguo/dagflow/resolver"
	"github.com/warriorguo/dagflow/types"
)

const (
	TypeInput      = "Input"
	TypeOutput     = "Output"
	TypeConst      = "Const"
	TypeAdd        = "Add"
	TypeSum        = "Sum"
	TypeFactorize  = "Factorize"
	TypeAppendText = "AppendText"
	TypeToJSON     = "ToJSON"
	TypeReadJSON   = "ReadJSON"
	TypeError      = "Error"

	TypeConstantBoolean = "ConstantBoolean"
	TypeConstantInteger = "ConstantInteger"
	TypeConstantString  = "ConstantString"
	TypeBuildMapping    = "BuildMapping"
	TypeExtractKey      = "ExtractKey"
	TypeWriteJSON       = "WriteJSON"
	TypeReadJSONLines   = "ReadJSONLines"
	TypeWriteJSONLines  = "WriteJSONLines"
)

var (
	textOrJSON = []string{types.MIMEText, types.MIMEJSON}
	jsonOnly   = []string{types.MIMEJSON}
	textOnly   = []string{types.MIMEText}
	jsonLines  = []string{types.MIMEJSONLines}
)

type builtin struct {
	fn      types.Function
	inputs  []types.Port
	outputs []types.Port
	opts    []resolver.FunctionOption
	// inputsOf derives the input ports from the node config.
	inputsOf func(config types.Data) []types.Port
}

func typedConstant(kind resolver.Kind) *builtin {
	return &builtin{
		fn:      constant,
		outputs: []types.Port{{Name: "value", MIMETypes: jsonOnly}},
		opts: []resolver.FunctionOption{
			resolver.WithSchema(resolver.ConfigSchema{"value": {Kind: kind, Required: true}}),
		},
	}
}

var builtins = map[string]*builtin{
	TypeInput: {
		fn:      passThrough,
		inputs:  []types.Port{{Name: "value", MIMETypes: textOrJSON}},
		outputs: []types.Port{{Name: "value", MIMETypes: textOrJSON}},
	},
	TypeOutput: {
		fn:      passThrough,
		inputs:  []types.Port{{Name: "value", MIMETypes: textOrJSON}},
		outputs: []types.Port{{Name: "value", MIMETypes: textOrJSON}},
	},
	TypeConst: {
		fn:      constant,
		outputs: []types.Port{{Name: "value", MIMETypes: jsonOnly}},
		opts: []resolver.FunctionOption{
			resolver.WithSchema(resolver.ConfigSchema{"value": {Required: true}}),
		},
	},
	TypeAdd: {
		fn: add,
		inputs: []types.Port{
			{Name: "a", MIMETypes: textOrJSON},
			{Name: "b", MIMETypes: textOrJSON, Optional: true},
		},
		outputs: []types.Port{{Name: "sum", MIMETypes: jsonOnly}},
		opts: []resolver.FunctionOption{
			resolver.WithSchema(resolver.ConfigSchema{"b": {Kind: resolver.KindFloat}}),
		},
	},
	TypeSum: {
		fn:      sum,
		inputs:  []types.Port{{Name: "values", MIMETypes: jsonOnly}},
		outputs: []types.Port{{Name: "sum", MIMETypes: jsonOnly}},
	},
	TypeFactorize: {
		fn:      factorize,
		inputs:  []types.Port{{Name: "value", MIMETypes: textOrJSON}},
		outputs: []types.Port{{Name: "factors", MIMETypes: jsonOnly}},
	},
	TypeAppendText: {
		fn:      appendText,
		inputs:  []types.Port{{Name: "text", MIMETypes: textOnly}},
		outputs: []types.Port{{Name: "text", MIMETypes: textOnly}},
		opts: []resolver.FunctionOption{
			resolver.WithSchema(resolver.ConfigSchema{"suffix": {Kind: resolver.KindString, Required: true}}),
		},
	},
	TypeToJSON: {
		fn:      toJSON,
		inputs:  []types.Port{{Name: "text", MIMETypes: textOnly}},
		outputs: []types.Port{{Name: "json", MIMETypes: jsonOnly}},
	},
	TypeReadJSON: {
		fn:      readJSON,
		inputs:  []types.Port{{Name: "json", MIMETypes: jsonOnly}},
		outputs: []types.Port{{Name: "data", MIMETypes: jsonOnly}},
	},
	TypeConstantBoolean: typedConstant(resolver.KindBool),
	TypeConstantInteger: typedConstant(resolver.KindInt),
	TypeConstantString:  typedConstant(resolver.KindString),
	TypeBuildMapping: {
		fn:       buildMapping,
		outputs:  []types.Port{{Name: "mapping", MIMETypes: jsonOnly}},
		inputsOf: mappingInputs,
		opts: []resolver.FunctionOption{
			resolver.WithSchema(resolver.ConfigSchema{"keys": {Kind: resolver.KindStringSlice, Required: true}}),
		},
	},
	TypeExtractKey: {
		fn:      extractKey,
		inputs:  []types.Port{{Name: "mapping", MIMETypes: jsonOnly}},
		outputs: []types.Port{{Name: "value", MIMETypes: jsonOnly}},
		opts: []resolver.FunctionOption{
			resolver.WithSchema(resolver.ConfigSchema{"key": {Kind: resolver.KindString, Required: true}}),
		},
	},
	TypeWriteJSON: {
		fn:      writeJSON,
		inputs:  []types.Port{{Name: "data", MIMETypes: jsonOnly}},
		outputs: []types.Port{{Name: "file", MIMETypes: jsonOnly}},
		opts: []resolver.FunctionOption{
			resolver.WithDefaults(types.Data{"indent": 0}),
			resolver.WithSchema(resolver.ConfigSchema{"indent": {Kind: resolver.KindInt}}),
		},
	},
	TypeReadJSONLines: {
		fn:      readJSONLines,
		inputs:  []types.Port{{Name: "file", MIMETypes: jsonLines}},
		outputs: []types.Port{{Name: "data", MIMETypes: jsonOnly}},
	},
	TypeWriteJSONLines: {
		fn:      writeJSONLines,
		inputs:  []types.Port{{Name: "data", MIMETypes: jsonOnly}},
		outputs: []types.Port{{Name: "file", MIMETypes: jsonLines}},
	},
	TypeError: {
		fn:     alwaysFail,
		inputs: []types.Port{{Name: "info", MIMETypes: textOrJSON, Optional: true}},
		opts: []resolver.FunctionOption{
			resolver.WithDefaults(types.Data{"message": "error"}),
			resolver.WithSchema(resolver.ConfigSchema{"message": {Kind: resolver.KindString}}),
		},
	},
}

// RegisterBuiltins registers every builtin node type on reg.
func RegisterBuiltins(reg *resolver.Registry) error {
	for _, nodeType := range Types() {
		b := builtins[nodeType]
		if err := reg.Register(nodeType, b.fn, b.opts...); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Types lists the builtin node types in ascending order.
func Types() []string {
	return []string{
		TypeAdd, TypeAppendText, TypeBuildMapping, TypeConst,
		TypeConstantBoolean, TypeConstantInteger, TypeConstantString,
		TypeError, TypeExtractKey, TypeFactorize, TypeInput, TypeOutput,
		TypeReadJSON, TypeReadJSONLines, TypeSum, TypeToJSON,
		TypeWriteJSON, TypeWriteJSONLines,
	}
}

func clonePorts(ports []types.Port) []*types.Port {
	out := make([]*types.Port, 0, len(ports))
	for _, p := range ports {
		out = append(out, &types.Port{
			Name:      p.Name,
			MIMETypes: append([]string(nil), p.MIMETypes...),
			Optional:  p.Optional,
		})
	}
	return out
}

// NewNode builds a node of a builtin type with its default ports.
func NewNode(id, nodeType string, config types.Data) (*types.Node, error) {
	inputs, outputs, exists := DefaultPorts(nodeType, config)
	if !exists {
		return nil, &types.FunctionNotFoundError{NodeType: nodeType}
	}
	return &types.Node{
		ID:      id,
		Type:    nodeType,
		Config:  config.Clone(),
		Inputs:  inputs,
		Outputs: outputs,
	}, nil
}

// DefaultPorts returns fresh copies of a builtin type's ports for a node
// configured with config.
func DefaultPorts(nodeType string, config types.Data) ([]*types.Port, []*types.Port, bool) {
	b, exists := builtins[nodeType]
	if !exists {
		return nil, nil, false
	}
	inputs := b.inputs
	if b.inputsOf != nil {
		inputs = b.inputsOf(config)
	}
	return clonePorts(inputs), clonePorts(b.outputs), true
}

func jsonPayload(v any) (types.Payload, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return types.Payload{}, errors.Trace(err)
	}
	return types.Payload{MIMEType: types.MIMEJSON, Content: b}, nil
}

// number reads a JSON number, a JSON string holding one or plain text.
func number(f *types.File) (float64, error) {
	if f == nil {
		return 0, errors.NotFoundf("input")
	}
	var v any
	content := bytes.TrimSpace(f.Content)
	if err := json.Unmarshal(content, &v); err != nil {
		v = string(content)
	}
	n, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, errors.NotValidf("number %q", string(content))
	}
	return n, nil
}

func passThrough(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
	f, exists := inputs["value"]
	if !exists {
		return nil, errors.NotFoundf("input value")
	}
	return types.Outputs{"value": {MIMEType: f.MIMEType, Content: f.Bytes()}}, nil
}

func constant(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
	v, _ := config.Get("value")
	p, err := jsonPayload(v)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return types.Outputs{"value": p}, nil
}

// add computes a + b where b comes from the b input when wired, otherwise
// from config.
func add(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
	a, err := number(inputs["a"])
	if err != nil {
		return nil, errors.Annotatef(err, "input a")
	}

	var b float64
	if f, exists := inputs["b"]; exists {
		if b, err = number(f); err != nil {
			return nil, errors.Annotatef(err, "input b")
		}
	} else if v, exists := config.GetFloat64("b"); exists {
		b = v
	} else {
		return nil, errors.NotFoundf("operand b in inputs or config")
	}

	ctx.Logger().Debugf("%v + %v", a, b)
	p, err := jsonPayload(a + b)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return types.Outputs{"sum": p}, nil
}

func sum(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
	values := make([]float64, 0)
	if err := json.Unmarshal(inputs["values"].Content, &values); err != nil {
		return nil, errors.Annotatef(err, "values must be a JSON array of numbers")
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	p, err := jsonPayload(total)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return types.Outputs{"sum": p}, nil
}

func factorize(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
	n, err := number(inputs["value"])
	if err != nil {
		return nil, errors.Trace(err)
	}
	if n <= 0 || n != float64(int64(n)) {
		return nil, errors.NotValidf("can only factorize positive integers, got %v", n)
	}

	v := int64(n)
	factors := make([]int64, 0)
	for i := int64(1); i <= v; i++ {
		if v%i == 0 {
			factors = append(factors, i)
		}
	}
	p, err := jsonPayload(factors)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return types.Outputs{"factors": p}, nil
}

func appendText(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
	suffix, _ := config.GetString("suffix")
	return types.Outputs{"text": {Content: []byte(inputs["text"].Text() + suffix)}}, nil
}

func toJSON(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
	p, err := jsonPayload(inputs["text"].Text())
	if err != nil {
		return nil, errors.Trace(err)
	}
	return types.Outputs{"json": p}, nil
}

func readJSON(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
	content := inputs["json"].Content
	if !json.Valid(content) {
		return nil, errors.NotValidf("JSON document")
	}
	buf := &bytes.Buffer{}
	if err := json.Compact(buf, content); err != nil {
		return nil, errors.Trace(err)
	}
	return types.Outputs{"data": {MIMEType: types.MIMEJSON, Content: buf.Bytes()}}, nil
}

func alwaysFail(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
	message, _ := config.GetString("message")
	if info, exists := inputs["info"]; exists {
		message += ": " + strings.TrimSpace(info.Text())
	}
	return nil, errors.New(message)
}

func mappingKeys(config types.Data) []string {
	v, _ := config.Get("keys")
	keys, _ := cast.ToStringSliceE(v)
	return keys
}

// mappingInputs declares one input port per configured key.
func mappingInputs(config types.Data) []types.Port {
	keys := mappingKeys(config)
	ports := make([]types.Port, 0, len(keys))
	for _, key := range keys {
		ports = append(ports, types.Port{Name: key, MIMETypes: textOrJSON})
	}
	return ports
}

// jsonValue keeps JSON input as is and turns text into a JSON string.
func jsonValue(f *types.File) (json.RawMessage, error) {
	if types.NormalizeMIME(f.MIMEType) == types.MIMEJSON {
		if !json.Valid(f.Content) {
			return nil, errors.NotValidf("JSON document")
		}
		return json.RawMessage(f.Content), nil
	}
	b, err := json.Marshal(f.Text())
	return b, errors.Trace(err)
}

func buildMapping(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
	mapping := make(map[string]json.RawMessage)
	for _, key := range mappingKeys(config) {
		f, exists := inputs[key]
		if !exists {
			return nil, errors.NotFoundf("input %s", key)
		}
		v, err := jsonValue(f)
		if err != nil {
			return nil, errors.Annotatef(err, "input %s", key)
		}
		mapping[key] = v
	}
	p, err := jsonPayload(mapping)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return types.Outputs{"mapping": p}, nil
}

func extractKey(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
	key, _ := config.GetString("key")
	mapping := make(map[string]json.RawMessage)
	if err := json.Unmarshal(inputs["mapping"].Content, &mapping); err != nil {
		return nil, errors.Annotatef(err, "mapping must be a JSON object")
	}
	v, exists := mapping[key]
	if !exists {
		return nil, errors.NotFoundf("key %q in mapping", key)
	}
	return types.Outputs{"value": {MIMEType: types.MIMEJSON, Content: v}}, nil
}

func writeJSON(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
	indent, _ := config.GetInt("indent")
	content := inputs["data"].Content
	buf := &bytes.Buffer{}
	var err error
	if indent > 0 {
		err = json.Indent(buf, content, "", strings.Repeat(" ", indent))
	} else {
		err = json.Compact(buf, content)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "data")
	}
	return types.Outputs{"file": {Content: buf.Bytes()}}, nil
}

// readJSONLines collects every JSON value of the file into one array.
func readJSONLines(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
	values := make([]json.RawMessage, 0)
	dec := json.NewDecoder(bytes.NewReader(inputs["file"].Content))
	for dec.More() {
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, errors.Annotatef(err, "line %d", len(values)+1)
		}
		values = append(values, v)
	}
	p, err := jsonPayload(values)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return types.Outputs{"data": p}, nil
}

func writeJSONLines(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
	values := make([]json.RawMessage, 0)
	if err := json.Unmarshal(inputs["data"].Content, &values); err != nil {
		return nil, errors.Annotatef(err, "data must be a JSON array")
	}
	buf := &bytes.Buffer{}
	for _, v := range values {
		if err := json.Compact(buf, v); err != nil {
			return nil, errors.Trace(err)
		}
		buf.WriteByte('\n')
	}
	return types.Outputs{"file": {Content: buf.Bytes()}}, nil
}
