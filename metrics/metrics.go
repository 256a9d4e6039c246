package metrics

import (
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/warriorguo/dagflow/types"
)

// Metrics holds the executor instruments. A nil *Metrics records nothing.
type Metrics struct {
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runsInFlight prometheus.Gauge

	nodesTotal   *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagflow_workflow_runs_total",
				Help: "Total number of finished workflow runs by final state",
			},
			[]string{"state"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dagflow_workflow_run_duration_seconds",
				Help:    "Workflow run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"state"},
		),
		runsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dagflow_workflow_runs_in_flight",
				Help: "Number of workflow runs currently executing",
			},
		),
		nodesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagflow_node_executions_total",
				Help: "Total number of node executions by node type and final state",
			},
			[]string{"node_type", "state"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dagflow_node_duration_seconds",
				Help:    "Node execution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"node_type"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.runsTotal, m.runDuration, m.runsInFlight, m.nodesTotal, m.nodeDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Annotatef(err, "register metrics")
		}
	}
	return m, nil
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsInFlight.Inc()
}

func (m *Metrics) RunFinished(state types.WorkflowState, d time.Duration) {
	if m == nil {
		return
	}
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues(state.String()).Inc()
	m.runDuration.WithLabelValues(state.String()).Observe(d.Seconds())
}

func (m *Metrics) NodeFinished(nodeType string, state types.NodeState, d time.Duration) {
	if m == nil {
		return
	}
	m.nodesTotal.WithLabelValues(nodeType, state.String()).Inc()
	m.nodeDuration.WithLabelValues(nodeType).Observe(d.Seconds())
}
