// Package metrics is the Prometheus registry for the engine's operational
// counters: tool dispatch outcomes, approval queue depth, retriever
// degrade events, and SNNE drift alerts. It is deliberately small — one
// struct of pre-registered collectors rather than a generic metrics
// abstraction.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Registry bundles every collector the orchestrator and its collaborators
// touch during a request. Construct once per process with New and pass the
// pointer down; there is no global/package-level instance so tests can use
// an isolated prometheus.Registry.
type Registry struct {
	reg prometheus.Registerer

	ToolDispatchTotal   *prometheus.CounterVec
	ToolDispatchLatency *prometheus.HistogramVec
	ApprovalQueueDepth  prometheus.Gauge
	RetrieverDegradeTotal *prometheus.CounterVec
	SNNEDriftAlertsTotal  *prometheus.CounterVec
	DecisionActionTotal   *prometheus.CounterVec
	RequestLatency        prometheus.Histogram
}

// New registers every collector against reg and returns the bundle. reg is
// typically prometheus.NewRegistry() for tests or prometheus.DefaultRegisterer
// for the server process.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		reg: reg,
		ToolDispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Subsystem: "tools",
			Name:      "dispatch_total",
			Help:      "Tool dispatch outcomes by tool name and outcome kind.",
		}, []string{"tool", "outcome"}),
		ToolDispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cortex",
			Subsystem: "tools",
			Name:      "dispatch_latency_seconds",
			Help:      "Tool dispatch latency by tool name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		ApprovalQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cortex",
			Subsystem: "approval",
			Name:      "queue_depth",
			Help:      "Pending approvals awaiting resolution.",
		}),
		RetrieverDegradeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Subsystem: "retriever",
			Name:      "degrade_total",
			Help:      "Retrieval requests that fell back after a source failure, by source.",
		}, []string{"source"}),
		SNNEDriftAlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Subsystem: "uncertainty",
			Name:      "snne_drift_alerts_total",
			Help:      "SNNE decile-drift alerts raised, by domain.",
		}, []string{"domain"}),
		DecisionActionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Subsystem: "decision",
			Name:      "action_total",
			Help:      "Decision head outcomes by action (accept/iterate/abstain).",
		}, []string{"action"}),
		RequestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cortex",
			Subsystem: "orchestrator",
			Name:      "request_latency_seconds",
			Help:      "End-to-end latency of a request from ready to final.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{
		m.ToolDispatchTotal, m.ToolDispatchLatency, m.ApprovalQueueDepth,
		m.RetrieverDegradeTotal, m.SNNEDriftAlertsTotal, m.DecisionActionTotal,
		m.RequestLatency,
	} {
		_ = reg.Register(c)
	}
	return m
}

// Handler returns the Prometheus text-exposition handler for GET /metrics/prom.
// It only works when reg also implements prometheus.Gatherer (true for both
// prometheus.NewRegistry() and prometheus.DefaultRegisterer).
func (m *Registry) Handler() http.Handler {
	gatherer, ok := m.reg.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
