package types

import (
	"github.com/mcuadros/go-defaults"
	"github.com/prometheus/client_golang/prometheus"
)

func NewExecutorOptions() *ExecutorOptions {
	opts := &ExecutorOptions{}
	defaults.SetDefaults(opts)
	return opts
}

type ExecutorOptions struct {
	/**
	 * default: 4
	 * BatchRunner runs at most this many independent runs at once. A single
	 * run is always sequential.
	 */
	MaxConcurrentRuns int `default:"4"`
	/**
	 * default: "run"
	 * prefix of generated run ids, "<prefix>-<uuid>".
	 */
	RunIDPrefix string `default:"run"`
	/**
	 * default: true, record per-node and per-run history when the resolver
	 * supports it.
	 */
	RecordHistory bool `default:"true"`
	/**
	 * default: false
	 * reusing a recorded run id is rejected unless Resume is set, then the
	 * nodes that completed in the earlier attempt are loaded instead of
	 * executed again. Needs RecordHistory.
	 */
	Resume bool `default:"false"`
	/**
	 * default: false, only set it to true when doing testing or developing.
	 */
	MemStore bool `default:"false"`

	// LocalDir selects the filesystem store rooted at this directory.
	LocalDir string

	// PostgresConfig takes precedence over LocalDir and MemStore.
	PostgresConfig *PostgresConfig

	// ConfigDefaults are merged under every node's config.
	ConfigDefaults Data

	// MetricsRegisterer, when set, receives the executor's instruments.
	MetricsRegisterer prometheus.Registerer
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // disable, require, verify-ca, verify-full
}

type ExecutorOption func(*ExecutorOptions)

func SetMaxConcurrentRuns(concurrency int) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.MaxConcurrentRuns = concurrency
	}
}

func WithRunIDPrefix(prefix string) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.RunIDPrefix = prefix
	}
}

func DisableHistory() ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.RecordHistory = false
	}
}

func WithResume() ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.Resume = true
	}
}

func EnableMemStore() ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.MemStore = true
	}
}

func WithLocalDir(dir string) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.LocalDir = dir
	}
}

// WithPostgresConfig configures the executor to persist into PostgreSQL
func WithPostgresConfig(config *PostgresConfig) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.PostgresConfig = config
	}
}

func WithConfigDefaults(d Data) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.ConfigDefaults = d
	}
}

func WithMetrics(reg prometheus.Registerer) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.MetricsRegisterer = reg
	}
}
