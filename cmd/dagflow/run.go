package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warriorguo/dagflow/types"
	"github.com/warriorguo/dagflow/utils"
)

type runFlags struct {
	file       string
	runID      string
	inputs     []string
	metricsOut string
	resume     bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workflow definition and print the outputs of its terminal nodes",
		Long: `Run a workflow definition once.

Inputs are given as name[:mime]=value, where value is taken literally or,
with a leading @, read from a file. mime is a MIME type or one of the
shortcuts "text" and "json", text/plain by default.

A run id that is already recorded is rejected. With --resume the nodes that
completed in the recorded attempt are kept and the run carries on from the
first one that did not, the recorded definition and inputs are used when -f
and --input are left out.

Example:
  dagflow run -f add.yaml --input a:json=5 --input notes=@notes.txt
  dagflow run --resume --run-id run-1234 --store local --dir ./runs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, g, f)
		},
	}
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Workflow definition (YAML or JSON)")
	cmd.Flags().StringVar(&f.runID, "run-id", "", "Run id, generated when empty")
	cmd.Flags().StringArrayVarP(&f.inputs, "input", "i", nil, "Workflow input name[:mime]=value|@file")
	cmd.Flags().StringVar(&f.metricsOut, "metrics-out", "", "Write prometheus metrics of the run to this textfile")
	cmd.Flags().BoolVar(&f.resume, "resume", false, "Continue a recorded run, needs --run-id")
	return cmd
}

func mimeAlias(m string) string {
	switch m {
	case "", "text":
		return types.MIMEText
	case "json":
		return types.MIMEJSON
	default:
		return m
	}
}

// parseInput reads one name[:mime]=value|@file flag value.
func parseInput(s string) (string, *types.File, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return "", nil, errors.NotValidf("input %q, want name[:mime]=value", s)
	}
	name, mimeType, _ := strings.Cut(key, ":")
	if name == "" {
		return "", nil, errors.NotValidf("input %q without name", s)
	}

	content := []byte(value)
	if path, isFile := strings.CutPrefix(value, "@"); isFile {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", nil, errors.Annotatef(err, "input %s", name)
		}
		content = b
	}
	return name, types.NewFile(mimeAlias(mimeType), content), nil
}

func parseInputs(flags []string) (map[string]*types.File, error) {
	inputs := make(map[string]*types.File, len(flags))
	for _, s := range flags {
		name, file, err := parseInput(s)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if _, exists := inputs[name]; exists {
			return nil, errors.AlreadyExistsf("input %s", name)
		}
		inputs[name] = file
	}
	return inputs, nil
}

func printOutputs(w io.Writer, outputs types.RunOutputs) {
	for _, nodeID := range utils.SortedKeys(outputs) {
		ports := outputs[nodeID]
		for _, port := range utils.SortedKeys(ports) {
			file := ports[port].File
			fmt.Fprintf(w, "%s.%s (%s): %s\n", nodeID, port, file.MIMEType, strings.TrimRight(file.Text(), "\n"))
		}
	}
}

func runWorkflow(cmd *cobra.Command, g *globalFlags, f *runFlags) error {
	ctx := cmd.Context()
	if f.resume && f.runID == "" {
		return errors.NotValidf("--resume without --run-id")
	}
	if f.file == "" && !f.resume {
		return errors.NotValidf("run without --file")
	}
	var inputs map[string]*types.File
	if len(f.inputs) > 0 {
		var err error
		if inputs, err = parseInputs(f.inputs); err != nil {
			return errors.Trace(err)
		}
	}

	var reg *prometheus.Registry
	extra := make([]types.ExecutorOption, 0)
	if f.resume {
		extra = append(extra, types.WithResume())
	}
	if f.metricsOut != "" {
		reg = prometheus.NewRegistry()
		extra = append(extra, types.WithMetrics(reg))
	}
	engine, err := g.engine(ctx, extra...)
	if err != nil {
		return errors.Trace(err)
	}
	defer engine.Close()

	graph, err := loadGraph(ctx, engine, f.file, f.runID)
	if err != nil {
		return errors.Trace(err)
	}

	runID := f.runID
	if runID == "" {
		runID = engine.NewRunID()
	}
	result, runErr := engine.ExecuteRun(ctx, runID, graph, inputs)

	if reg != nil {
		if err := prometheus.WriteToTextfile(f.metricsOut, reg); err != nil {
			log.Errorf("failed to write metrics to %s: %v", f.metricsOut, err)
		}
	}

	out := cmd.OutOrStdout()
	if result != nil {
		fmt.Fprintf(out, "run %s %v\n", result.RunID, result.State)
	}
	if runErr != nil {
		var wee *types.WorkflowExecutionError
		if errors.As(runErr, &wee) && len(wee.Partial) > 0 {
			fmt.Fprintln(out, "partial outputs:")
			printOutputs(out, wee.Partial)
		}
		return runErr
	}
	printOutputs(out, result.Outputs)
	return nil
}
