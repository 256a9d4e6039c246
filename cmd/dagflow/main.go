package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warriorguo/dagflow"
	"github.com/warriorguo/dagflow/store/postgres"
	"github.com/warriorguo/dagflow/types"
)

const (
	storeMem      = "mem"
	storeLocal    = "local"
	storePostgres = "postgres"

	defaultLogLevel = "info"
)

// globalFlags are shared by every sub command.
type globalFlags struct {
	store     string
	dir       string
	dsn       string
	logLevel  string
	logFormat string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "dagflow",
		Short: "Validate, run and inspect dataflow workflows",
		Long: `dagflow executes workflow graphs whose nodes exchange typed files over
named ports. Definitions are YAML or JSON documents.

Example:
  dagflow run -f workflow.yaml --input a=5 --store local --dir ./runs
  dagflow status --run run-1234 --store local --dir ./runs`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(g.logLevel, g.logFormat)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&g.store, "store", storeMem, "Store backend (mem, local, postgres)")
	flags.StringVar(&g.dir, "dir", "", "Root directory of the local store")
	flags.StringVar(&g.dsn, "dsn", "", "PostgreSQL DSN, e.g. \"host=localhost port=5432 user=postgres dbname=dagflow\"")
	flags.StringVarP(&g.logLevel, "log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&g.logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(
		newRunCmd(g),
		newValidateCmd(),
		newOrderCmd(),
		newRenderCmd(g),
		newStatusCmd(g),
	)
	return rootCmd
}

func setupLogging(level, format string) error {
	l, err := log.ParseLevel(level)
	if err != nil {
		return errors.Annotatef(err, "log level")
	}
	log.SetLevel(l)
	log.SetOutput(os.Stderr)

	switch format {
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return errors.NotValidf("log format %q", format)
	}
	return nil
}

// storeOptions turns the store flags into executor options.
func (g *globalFlags) storeOptions() ([]types.ExecutorOption, error) {
	switch g.store {
	case storeMem:
		return []types.ExecutorOption{types.EnableMemStore()}, nil
	case storeLocal:
		if g.dir == "" {
			return nil, errors.NotValidf("--store local without --dir")
		}
		return []types.ExecutorOption{types.WithLocalDir(g.dir)}, nil
	case storePostgres:
		config := postgres.DefaultConfig()
		if g.dsn != "" {
			var err error
			if config, err = postgres.ParseDSN(g.dsn); err != nil {
				return nil, errors.Annotatef(err, "--dsn")
			}
		}
		return []types.ExecutorOption{types.WithPostgresConfig(&types.PostgresConfig{
			Host:     config.Host,
			Port:     config.Port,
			User:     config.User,
			Password: config.Password,
			Database: config.Database,
			SSLMode:  config.SSLMode,
		})}, nil
	default:
		return nil, errors.NotValidf("store %q", g.store)
	}
}

func (g *globalFlags) engine(ctx context.Context, extra ...types.ExecutorOption) (*dagflow.Engine, error) {
	opts, err := g.storeOptions()
	if err != nil {
		return nil, errors.Trace(err)
	}
	engine, err := dagflow.NewExecutorContext(ctx, append(opts, extra...)...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return engine, nil
}
