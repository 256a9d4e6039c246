package runtime

import (
	"sync"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"
	"github.com/warriorguo/dagflow/functions"
	"github.com/warriorguo/dagflow/resolver"
	"github.com/warriorguo/dagflow/store"
	"github.com/warriorguo/dagflow/store/mem"
	"github.com/warriorguo/dagflow/types"
)

// calls counts function invocations per node id.
type calls struct {
	mu sync.Mutex
	m  map[string]int
}

func (c *calls) add(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]int)
	}
	c.m[nodeID]++
}

func (c *calls) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.m {
		n += v
	}
	return n
}

func (c *calls) of(nodeID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[nodeID]
}

type testEnv struct {
	executor *Executor
	resolver *resolver.StoreResolver
	store    store.Store
	calls    *calls
}

// counted wraps fn so every invocation is counted.
func counted(c *calls, fn types.Function) types.Function {
	return func(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
		c.add(ctx.GetNodeID())
		return fn(ctx, inputs, config)
	}
}

func failing(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
	return nil, errors.New("second node exploded")
}

func echo(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
	return types.Outputs{"out": {Content: []byte(`"` + ctx.GetNodeID() + `"`)}}, nil
}

func newTestEnv(t require.TestingT, s store.Store, opts ...types.ExecutorOption) *testEnv {
	if s == nil {
		s = mem.NewMemStore()
	}
	c := &calls{}

	reg := resolver.NewRegistry()
	require.Nil(t, functions.RegisterBuiltins(reg))
	require.Nil(t, reg.Register("Fail", failing))
	require.Nil(t, reg.Register("Echo", echo))
	reg.Use(func(nodeType string, next types.Function) types.Function {
		return counted(c, next)
	})

	r := resolver.NewStoreResolver(s, reg, nil)
	o := types.NewExecutorOptions()
	for _, opt := range opts {
		opt(o)
	}
	e, err := NewExecutor(r, o)
	require.Nil(t, err)
	return &testEnv{executor: e, resolver: r, store: s, calls: c}
}

func builtinNode(t require.TestingT, id, nodeType string, config types.Data) *types.Node {
	n, err := functions.NewNode(id, nodeType, config)
	require.Nil(t, err)
	return n
}

// echoNode has one JSON output "out" and one JSON input per name.
func echoNode(id string, inputs ...string) *types.Node {
	n := &types.Node{
		ID:      id,
		Type:    "Echo",
		Outputs: []*types.Port{{Name: "out", MIMETypes: []string{types.MIMEJSON}}},
	}
	for _, in := range inputs {
		n.Inputs = append(n.Inputs, &types.Port{Name: in, MIMETypes: []string{types.MIMEJSON}})
	}
	return n
}

func edge(src, srcPort, dst, dstPort string) *types.Edge {
	return &types.Edge{SourceNode: src, SourcePort: srcPort, TargetNode: dst, TargetPort: dstPort}
}

func jsonFile(s string) *types.File {
	return types.NewFile(types.MIMEJSON, []byte(s))
}

// linearGraph is Input(a) -> Add(b=3) -> Output.
func linearGraph(t *testing.T) *types.Graph {
	return &types.Graph{
		Version: "v1.0.0",
		Nodes: []*types.Node{
			builtinNode(t, "in", functions.TypeInput, nil),
			builtinNode(t, "add", functions.TypeAdd, types.Data{"b": 3}),
			builtinNode(t, "out", functions.TypeOutput, nil),
		},
		Edges: []*types.Edge{
			edge("in", "value", "add", "a"),
			edge("add", "sum", "out", "value"),
		},
		InputEdges: []*types.InputEdge{
			{Input: "a", TargetNode: "in", TargetPort: "value"},
		},
	}
}

// fanInGraph is Const(2) and Const(4) into Add, then Output.
func fanInGraph(t *testing.T) *types.Graph {
	return &types.Graph{
		Nodes: []*types.Node{
			builtinNode(t, "output", functions.TypeOutput, nil),
			builtinNode(t, "add", functions.TypeAdd, nil),
			builtinNode(t, "const_y", functions.TypeConst, types.Data{"value": 4}),
			builtinNode(t, "const_x", functions.TypeConst, types.Data{"value": 2}),
		},
		Edges: []*types.Edge{
			edge("const_x", "value", "add", "a"),
			edge("const_y", "value", "add", "b"),
			edge("add", "sum", "output", "value"),
		},
	}
}
