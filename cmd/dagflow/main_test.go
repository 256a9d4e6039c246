package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warriorguo/dagflow/types"
)

const (
	linearFile = "../../loader/testdata/linear.yaml"
	fanInFile  = "../../loader/testdata/fan_in.json"
	cycleFile  = "../../loader/testdata/cycle.yaml"
)

func execute(args ...string) (string, error) {
	cmd := newRootCmd()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseInput(t *testing.T) {
	notes := filepath.Join(t.TempDir(), "notes.txt")
	require.Nil(t, os.WriteFile(notes, []byte("from file"), 0o644))

	tests := []struct {
		name     string
		input    string
		wantName string
		wantMIME string
		wantText string
		wantErr  bool
	}{
		{name: "plain text", input: "a=hello", wantName: "a", wantMIME: types.MIMEText, wantText: "hello"},
		{name: "json shortcut", input: "a:json=5", wantName: "a", wantMIME: types.MIMEJSON, wantText: "5"},
		{name: "full mime", input: "doc:text/markdown=# hi", wantName: "doc", wantMIME: "text/markdown", wantText: "# hi"},
		{name: "value with equals", input: "q=a=b", wantName: "q", wantMIME: types.MIMEText, wantText: "a=b"},
		{name: "from file", input: "n=@" + notes, wantName: "n", wantMIME: types.MIMEText, wantText: "from file"},
		{name: "missing file", input: "n=@/does/not/exist", wantErr: true},
		{name: "no equals", input: "a", wantErr: true},
		{name: "no name", input: ":json=1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, file, err := parseInput(tt.input)
			if tt.wantErr {
				assert.NotNil(t, err)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantMIME, file.MIMEType)
			assert.Equal(t, tt.wantText, file.Text())
		})
	}

	_, err := parseInputs([]string{"a=1", "a=2"})
	assert.NotNil(t, err)
}

func TestRunAndInspect(t *testing.T) {
	dir := t.TempDir()
	metrics := filepath.Join(dir, "metrics.prom")
	store := []string{"--store", "local", "--dir", filepath.Join(dir, "store")}

	out, err := execute(append([]string{"run", "-f", linearFile, "--input", "a:json=5", "--run-id", "r1", "--metrics-out", metrics}, store...)...)
	require.Nil(t, err)
	assert.Equal(t, "run r1 COMPLETED\nout.value (application/json): 8\n", out)

	b, err := os.ReadFile(metrics)
	require.Nil(t, err)
	assert.Contains(t, string(b), "dagflow_workflow_runs_total")

	out, err = execute(append([]string{"run", "-f", linearFile, "--run-id", "r2"}, store...)...)
	assert.NotNil(t, err)
	assert.Contains(t, out, "run r2 FAILED")

	out, err = execute(append([]string{"status"}, store...)...)
	require.Nil(t, err)
	assert.Equal(t, "r1\nr2\n", out)

	out, err = execute(append([]string{"status", "--run", "r1"}, store...)...)
	require.Nil(t, err)
	assert.Contains(t, out, "run r1 COMPLETED")
	assert.Contains(t, out, "  add COMPLETED")

	out, err = execute(append([]string{"status", "--run", "r2"}, store...)...)
	require.Nil(t, err)
	assert.Contains(t, out, "failed at in")
	assert.Contains(t, out, "  add PENDING")

	out, err = execute(append([]string{"render", "-f", linearFile, "--run", "r1"}, store...)...)
	require.Nil(t, err)
	assert.Contains(t, out, `color="green"`)

	_, err = execute(append([]string{"status", "--run", "nope"}, store...)...)
	assert.NotNil(t, err)

	// a recorded run id is taken unless resumed
	_, err = execute(append([]string{"run", "-f", linearFile, "--input", "a:json=5", "--run-id", "r1"}, store...)...)
	assert.NotNil(t, err)

	out, err = execute(append([]string{"run", "--resume", "--run-id", "r2", "--input", "a:json=1"}, store...)...)
	require.Nil(t, err)
	assert.Equal(t, "run r2 COMPLETED\nout.value (application/json): 4\n", out)

	out, err = execute(append([]string{"run", "--resume", "--run-id", "r1"}, store...)...)
	require.Nil(t, err)
	assert.Equal(t, "run r1 COMPLETED\nout.value (application/json): 8\n", out)

	out, err = execute(append([]string{"status", "--run", "r1"}, store...)...)
	require.Nil(t, err)
	assert.NotContains(t, out, "resumed")

	out, err = execute(append([]string{"render", "--run", "r2"}, store...)...)
	require.Nil(t, err)
	assert.Contains(t, out, `n_out [label="{value}|out: Output|{value}" shape="record" style="filled" color="green" comment=`)
}

func TestRunPartialOutputs(t *testing.T) {
	doc := filepath.Join(t.TempDir(), "fail.yaml")
	require.Nil(t, os.WriteFile(doc, []byte(`
nodes:
  - {id: one, type: Const, config: {value: 1}}
  - {id: boom, type: Error, config: {message: nope}}
edges:
  - {source: one, source_port: value, target: boom, target_port: info}
`), 0o644))

	out, err := execute("run", "-f", doc)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "nope: 1")
	assert.Contains(t, out, "partial outputs:\none.value (application/json): 1\n")
}

func TestValidateAndOrder(t *testing.T) {
	out, err := execute("validate", "-f", fanInFile)
	require.Nil(t, err)
	assert.Contains(t, out, "ok, 4 nodes, 3 edges")

	out, err = execute("order", "-f", fanInFile)
	require.Nil(t, err)
	assert.Equal(t, "const_x\nconst_y\nadd\noutput\n", out)

	_, err = execute("validate", "-f", cycleFile)
	assert.True(t, types.IsGraphValidationError(err))

	_, err = execute("order", "-f", cycleFile)
	assert.NotNil(t, err)

	out, err = execute("render", "-f", fanInFile)
	require.Nil(t, err)
	assert.Contains(t, out, "digraph D {")
}

func TestBadFlags(t *testing.T) {
	_, err := execute("validate")
	assert.NotNil(t, err)

	_, err = execute("status", "--store", "local")
	assert.NotNil(t, err)

	_, err = execute("status", "--store", "s3")
	assert.NotNil(t, err)

	_, err = execute("validate", "-f", fanInFile, "--log-format", "xml")
	assert.NotNil(t, err)

	_, err = execute("run")
	assert.NotNil(t, err)

	_, err = execute("run", "--resume", "-f", fanInFile)
	assert.NotNil(t, err)

	_, err = execute("render")
	assert.NotNil(t, err)
}
