package main

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"github.com/warriorguo/dagflow"
	"github.com/warriorguo/dagflow/loader"
	"github.com/warriorguo/dagflow/runtime"
	"github.com/warriorguo/dagflow/types"
)

// loadGraph reads file, or the definition recorded for runID when file is
// empty.
func loadGraph(ctx context.Context, engine *dagflow.Engine, file, runID string) (*types.Graph, error) {
	if file != "" {
		graph, err := loader.LoadFile(file)
		return graph, errors.Trace(err)
	}
	def, err := engine.History().LoadDefinition(ctx, runID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return def.Graph, nil
}

func newValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a workflow definition without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := loader.LoadFile(file)
			if err != nil {
				return errors.Trace(err)
			}
			if err := runtime.Validate(graph); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d nodes, %d edges\n", file, len(graph.Nodes), len(graph.Edges))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Workflow definition (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newOrderCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Print the execution order of a workflow definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := loader.LoadFile(file)
			if err != nil {
				return errors.Trace(err)
			}
			order, err := runtime.Order(graph)
			if err != nil {
				return err
			}
			for _, id := range order {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Workflow definition (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRenderCmd(g *globalFlags) *cobra.Command {
	var file, runID string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a workflow definition as graphviz DOT, optionally colored by a recorded run",
		Long: `Render a workflow definition as graphviz DOT.

With --run the nodes are colored by the recorded history of that run, and
the recorded definition is used when -f is left out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				if file == "" {
					return errors.NotValidf("render without --file or --run")
				}
				graph, err := loader.LoadFile(file)
				if err != nil {
					return errors.Trace(err)
				}
				fmt.Fprint(cmd.OutOrStdout(), runtime.RenderDOT(graph, nil))
				return nil
			}

			ctx := cmd.Context()
			engine, err := g.engine(ctx)
			if err != nil {
				return errors.Trace(err)
			}
			defer engine.Close()

			graph, err := loadGraph(ctx, engine, file, runID)
			if err != nil {
				return errors.Trace(err)
			}
			_, records, err := engine.History().LoadRun(ctx, runID)
			if err != nil {
				return errors.Trace(err)
			}
			fmt.Fprint(cmd.OutOrStdout(), runtime.RenderRecords(graph, records))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Workflow definition (YAML or JSON)")
	cmd.Flags().StringVar(&runID, "run", "", "Color nodes by the history of this run")
	return cmd
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the recorded state of a run, or list runs when --run is empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := g.engine(ctx)
			if err != nil {
				return errors.Trace(err)
			}
			defer engine.Close()
			out := cmd.OutOrStdout()

			if runID == "" {
				runIDs, err := engine.History().ListRuns(ctx)
				if err != nil {
					return errors.Trace(err)
				}
				for _, id := range runIDs {
					fmt.Fprintln(out, id)
				}
				return nil
			}

			run, records, err := engine.History().LoadRun(ctx, runID)
			if err != nil {
				return errors.Trace(err)
			}
			fmt.Fprintf(out, "run %s %v (%v)\n", run.RunID, run.State, run.EndTime.Sub(run.StartTime))
			if run.FailedNode != "" {
				fmt.Fprintf(out, "failed at %s: %s\n", run.FailedNode, run.Error)
			}
			if len(run.Resumed) > 0 {
				fmt.Fprintf(out, "resumed %v\n", run.Resumed)
			}
			for _, nodeID := range run.Order {
				record, exists := records[nodeID]
				if !exists {
					fmt.Fprintf(out, "  %s PENDING\n", nodeID)
					continue
				}
				fmt.Fprintf(out, "  %s %v %v\n", nodeID, record.State, record.EndTime.Sub(record.StartTime))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Run id")
	return cmd
}
