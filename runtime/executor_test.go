package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warriorguo/dagflow/functions"
	"github.com/warriorguo/dagflow/store/mem"
	"github.com/warriorguo/dagflow/types"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func asExecutionError(t *testing.T, err error) *types.WorkflowExecutionError {
	var wee *types.WorkflowExecutionError
	require.True(t, errors.As(err, &wee), "want *WorkflowExecutionError, got %v", err)
	return wee
}

func TestLinearAddition(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	result, err := env.executor.Execute(ctx, linearGraph(t), map[string]*types.File{"a": jsonFile("5")})
	require.Nil(t, err)
	assert.True(t, strings.HasPrefix(result.RunID, "run-"))
	assert.Equal(t, types.WorkflowCompleted, result.State)
	assert.Equal(t, []string{"in", "add", "out"}, result.Order)

	out, exists := result.Output("out", "value")
	require.True(t, exists)
	assert.Equal(t, "8", out.File.Text())
	assert.Equal(t, types.MIMEJSON, out.File.MIMEType)
	assert.Equal(t, int64(1), out.File.Size)
	assert.Equal(t, "out", out.Metadata[types.MetaProducer])
	assert.Equal(t, functions.TypeOutput, out.Metadata[types.MetaNodeType])

	// only terminal nodes make it into Outputs
	assert.Equal(t, 1, len(result.Outputs))
	assert.Equal(t, 3, len(result.Committed))
	for _, id := range result.Order {
		assert.Equal(t, types.NodeCompleted, result.NodeStates[id])
		assert.Equal(t, 1, env.calls.of(id))
	}
}

func TestFanIn(t *testing.T) {
	env := newTestEnv(t, nil)

	result, err := env.executor.Execute(context.Background(), fanInGraph(t), nil)
	require.Nil(t, err)
	assert.Equal(t, []string{"const_x", "const_y", "add", "output"}, result.Order)

	out, exists := result.Output("output", "value")
	require.True(t, exists)
	assert.Equal(t, "6", out.File.Text())
}

func TestCycleRunsNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	graph := &types.Graph{
		Nodes: []*types.Node{echoNode("A", "in"), echoNode("B", "in")},
		Edges: []*types.Edge{edge("A", "out", "B", "in"), edge("B", "out", "A", "in")},
	}

	result, err := env.executor.Execute(context.Background(), graph, nil)
	assert.Nil(t, result)
	assert.True(t, types.IsGraphValidationError(err))

	var cde *types.CycleDetectedError
	require.True(t, errors.As(err, &cde))
	assert.Equal(t, []string{"A", "B", "A"}, cde.Cycle)
	assert.Equal(t, 0, env.calls.total())

	var wee *types.WorkflowExecutionError
	assert.False(t, errors.As(err, &wee))
}

func TestTypeMismatchRejectedBeforeExecution(t *testing.T) {
	env := newTestEnv(t, nil)
	graph := &types.Graph{
		Nodes: []*types.Node{
			builtinNode(t, "text", functions.TypeAppendText, types.Data{"suffix": "!"}),
			builtinNode(t, "json", functions.TypeReadJSON, nil),
		},
		Edges:      []*types.Edge{edge("text", "text", "json", "json")},
		InputEdges: []*types.InputEdge{{Input: "t", TargetNode: "text", TargetPort: "text"}},
	}

	_, err := env.executor.Execute(context.Background(), graph, map[string]*types.File{"t": types.NewTextFile("x")})
	var tme *types.TypeMismatchError
	require.True(t, errors.As(err, &tme))
	assert.Equal(t, "text", tme.SourceNode)
	assert.Equal(t, []string{types.MIMEText}, tme.Produced)
	assert.Equal(t, "json", tme.TargetNode)
	assert.Equal(t, []string{types.MIMEJSON}, tme.Accepted)
	assert.Equal(t, 0, env.calls.total())
}

func TestMidRunFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	graph := &types.Graph{
		Nodes: []*types.Node{
			builtinNode(t, "n1", functions.TypeConst, types.Data{"value": 1}),
			{
				ID:      "n2",
				Type:    "Fail",
				Inputs:  []*types.Port{{Name: "value", MIMETypes: []string{types.MIMEJSON}}},
				Outputs: []*types.Port{{Name: "value", MIMETypes: []string{types.MIMEJSON}}},
			},
			builtinNode(t, "n3", functions.TypeOutput, nil),
		},
		Edges: []*types.Edge{edge("n1", "value", "n2", "value"), edge("n2", "value", "n3", "value")},
	}

	result, err := env.executor.Execute(context.Background(), graph, nil)
	wee := asExecutionError(t, err)
	assert.Equal(t, "n2", wee.NodeID)
	assert.Equal(t, result.RunID, wee.RunID)

	node, ok := types.FailedNode(err)
	assert.True(t, ok)
	assert.Equal(t, "n2", node)

	var nee *types.NodeExecutionError
	require.True(t, errors.As(err, &nee))
	assert.Contains(t, nee.Error(), "second node exploded")

	assert.Equal(t, 1, len(wee.Partial))
	assert.Equal(t, "1", wee.Partial["n1"]["value"].File.Text())
	_, exists := wee.Partial["n3"]
	assert.False(t, exists)

	assert.Equal(t, types.WorkflowFailed, result.State)
	assert.Equal(t, types.NodeCompleted, result.NodeStates["n1"])
	assert.Equal(t, types.NodeFailed, result.NodeStates["n2"])
	assert.Equal(t, types.NodePending, result.NodeStates["n3"])
	assert.Equal(t, 0, env.calls.of("n3"))
	assert.Equal(t, wee.Partial, result.Committed)
}

func TestStorageFailureIsFatal(t *testing.T) {
	quota := errors.New("quota exceeded")
	env := newTestEnv(t, mem.NewMemStoreWithErrHandler(mem.FailOn(mem.OpSet, "|add/", quota)))

	result, err := env.executor.Execute(context.Background(), linearGraph(t), map[string]*types.File{"a": jsonFile("5")})
	wee := asExecutionError(t, err)
	assert.Equal(t, "add", wee.NodeID)

	var se *types.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "add", se.NodeID)
	assert.Equal(t, "sum", se.Port)
	assert.True(t, errors.Is(err, quota))

	assert.Equal(t, []string{"in"}, keysOf(wee.Partial))
	assert.Equal(t, types.NodeFailed, result.NodeStates["add"])
}

func keysOf(o types.RunOutputs) []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	return keys
}

func TestMissingWorkflowInput(t *testing.T) {
	env := newTestEnv(t, nil)

	result, err := env.executor.Execute(context.Background(), linearGraph(t), nil)
	wee := asExecutionError(t, err)
	assert.Equal(t, "in", wee.NodeID)

	var mie *types.MissingInputError
	require.True(t, errors.As(err, &mie))
	assert.Equal(t, "a", mie.Input)
	assert.Equal(t, "value", mie.Port)
	assert.Equal(t, 0, len(wee.Partial))
	assert.Equal(t, types.NodeFailed, result.NodeStates["in"])
	assert.Equal(t, 0, env.calls.total())
}

func TestWorkflowInputMIMEChecked(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.executor.Execute(context.Background(), linearGraph(t),
		map[string]*types.File{"a": types.NewFile("text/html", []byte("<b>5</b>"))})
	var tme *types.TypeMismatchError
	require.True(t, errors.As(err, &tme))
	assert.Equal(t, "", tme.SourceNode)
	assert.Equal(t, "in", tme.TargetNode)
	assert.Contains(t, tme.Error(), "workflow input")
}

func TestRequiredPortUnwired(t *testing.T) {
	env := newTestEnv(t, nil)
	graph := &types.Graph{Nodes: []*types.Node{builtinNode(t, "lonely", functions.TypeAdd, types.Data{"b": 1})}}

	_, err := env.executor.Execute(context.Background(), graph, nil)
	var mie *types.MissingInputError
	require.True(t, errors.As(err, &mie))
	assert.Equal(t, "lonely", mie.NodeID)
	assert.Equal(t, "a", mie.Port)
	assert.Equal(t, "", mie.Input)
}

func TestOptionalPortUnwired(t *testing.T) {
	env := newTestEnv(t, nil)
	graph := &types.Graph{
		Nodes: []*types.Node{
			builtinNode(t, "a", functions.TypeConst, types.Data{"value": 10}),
			builtinNode(t, "add", functions.TypeAdd, types.Data{"b": "0.5"}),
		},
		Edges: []*types.Edge{edge("a", "value", "add", "a")},
	}

	result, err := env.executor.Execute(context.Background(), graph, nil)
	require.Nil(t, err)
	out, _ := result.Output("add", "sum")
	assert.Equal(t, "10.5", out.File.Text())
}

func TestFunctionNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	n := echoNode("ghost")
	n.Type = "Ghost"

	_, err := env.executor.Execute(context.Background(), &types.Graph{Nodes: []*types.Node{n}}, nil)
	var fnf *types.FunctionNotFoundError
	require.True(t, errors.As(err, &fnf))
	assert.Equal(t, "Ghost", fnf.NodeType)
	assert.Equal(t, "ghost", asExecutionError(t, err).NodeID)
}

func TestConfigErrorIsFatal(t *testing.T) {
	env := newTestEnv(t, nil)
	graph := &types.Graph{
		Nodes:      []*types.Node{builtinNode(t, "append", functions.TypeAppendText, nil)},
		InputEdges: []*types.InputEdge{{Input: "t", TargetNode: "append", TargetPort: "text"}},
	}

	_, err := env.executor.Execute(context.Background(), graph, map[string]*types.File{"t": types.NewTextFile("x")})
	var ce *types.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "suffix", ce.Key)
	assert.Equal(t, 0, env.calls.total())
}

func TestFunctionMisbehaviour(t *testing.T) {
	cases := map[string]types.Function{
		"panic": func(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
			panic("index out of range")
		},
		"undeclared port": func(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
			return types.Outputs{"bogus": {Content: []byte("1")}}, nil
		},
		"undeclared mime": func(ctx types.Context, inputs types.Inputs, config types.Data) (types.Outputs, error) {
			return types.Outputs{"out": {MIMEType: "image/png", Content: []byte{0x89}}}, nil
		},
	}

	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			require.Nil(t, env.resolver.Registry().Register("Bad", fn))
			n := echoNode("bad")
			n.Type = "Bad"

			_, err := env.executor.Execute(context.Background(), &types.Graph{Nodes: []*types.Node{n}}, nil)
			var nee *types.NodeExecutionError
			require.True(t, errors.As(err, &nee), "%v", err)
			assert.Equal(t, "bad", nee.NodeID)

			outputs, err := env.resolver.LoadOutputs(context.Background(), asExecutionError(t, err).RunID)
			assert.Nil(t, err)
			assert.Equal(t, 0, len(outputs))
		})
	}
}

func TestCanceledContext(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := env.executor.Execute(ctx, fanInGraph(t), nil)
	wee := asExecutionError(t, err)
	assert.Equal(t, "const_x", wee.NodeID)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, types.NodePending, result.NodeStates["const_x"])
	assert.Equal(t, 0, env.calls.total())
}

func TestExecuteRunHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	result, err := env.executor.ExecuteRun(ctx, "run-fixed", linearGraph(t), map[string]*types.File{"a": jsonFile("1")})
	require.Nil(t, err)
	assert.Equal(t, "run-fixed", result.RunID)

	run, records, err := env.resolver.LoadRun(ctx, "run-fixed")
	require.Nil(t, err)
	assert.Equal(t, types.WorkflowCompleted, run.State)
	assert.Equal(t, []string{"in", "add", "out"}, run.Order)
	assert.Equal(t, 3, len(records))
	assert.Equal(t, types.NodeCompleted, records["add"].State)
	assert.Equal(t, result.Committed["add"]["sum"].File.Digest, records["add"].Outputs["sum"].Digest)
	assert.Equal(t, types.MIMEJSON, records["add"].Inputs["a"].MIMEType)

	_, err = env.executor.ExecuteRun(ctx, "", linearGraph(t), nil)
	assert.NotNil(t, err)
}

func TestHistoryDisabled(t *testing.T) {
	env := newTestEnv(t, nil, types.DisableHistory())
	ctx := context.Background()

	_, err := env.executor.ExecuteRun(ctx, "run-quiet", fanInGraph(t), nil)
	require.Nil(t, err)
	_, _, err = env.resolver.LoadRun(ctx, "run-quiet")
	assert.NotNil(t, err)
}

func TestHistoryFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t, mem.NewMemStoreWithErrHandler(mem.FailOn(mem.OpSet, "/record/", errors.New("history down"))))

	result, err := env.executor.Execute(context.Background(), fanInGraph(t), nil)
	require.Nil(t, err)
	assert.Equal(t, types.WorkflowCompleted, result.State)
}

func TestExecutorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := newTestEnv(t, nil, types.WithMetrics(reg))

	_, err := env.executor.Execute(context.Background(), fanInGraph(t), nil)
	require.Nil(t, err)
	_, err = env.executor.Execute(context.Background(), linearGraph(t), nil)
	require.NotNil(t, err)

	count, err := testutil.GatherAndCount(reg, "dagflow_workflow_runs_total")
	assert.Nil(t, err)
	assert.Equal(t, 2, count)

	// Const, Add and Output completed, Input failed
	count, err = testutil.GatherAndCount(reg, "dagflow_node_executions_total")
	assert.Nil(t, err)
	assert.Equal(t, 4, count)

	_, err = NewExecutor(env.resolver, env.executor.Options())
	assert.NotNil(t, err)
}

func TestExecutorSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
	})

	env := newTestEnv(t, nil)
	_, err := env.executor.Execute(context.Background(), linearGraph(t), map[string]*types.File{"a": jsonFile("5")})
	require.Nil(t, err)

	names := make(map[string]int)
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	assert.Equal(t, 1, names["workflow.execute"])
	assert.Equal(t, 3, names["workflow.node"])
}

func TestNewExecutorRejectsNilResolver(t *testing.T) {
	_, err := NewExecutor(nil, nil)
	assert.NotNil(t, err)
}
