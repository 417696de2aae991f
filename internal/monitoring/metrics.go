package monitoring

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/payops-sentinel/internal/model"
	"github.com/sells-group/payops-sentinel/internal/resilience"
)

// Metrics holds the Prometheus metrics for the sentinel. It implements
// workflow.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal       *prometheus.CounterVec
	CycleDuration     *prometheus.HistogramVec
	ProposalsTotal    *prometheus.CounterVec
	ResolutionsTotal  *prometheus.CounterVec
	ExecutionsTotal   *prometheus.CounterVec
	ReasoningDuration *prometheus.HistogramVec
	Sessions          *prometheus.GaugeVec
	StaleApprovals    prometheus.Gauge
	AlertsSent        *prometheus.CounterVec
	CircuitOpen       *prometheus.GaugeVec
	CircuitFailures   *prometheus.GaugeVec
}

// NewMetrics creates the metrics on a private registry, so tests and
// multiple instances never collide on the default one.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CyclesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_cycles_total",
				Help: "Workflow cycles by outcome",
			},
			[]string{"outcome"}, // none, alert_human, awaiting_approval, no_data, error
		),

		CycleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_cycle_duration_seconds",
				Help:    "Duration of a workflow cycle from observe to persist",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),

		ProposalsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_proposals_total",
				Help: "Proposals produced by the decision engine",
			},
			[]string{"kind"},
		),

		ResolutionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_proposal_resolutions_total",
				Help: "How pending proposals were resolved",
			},
			[]string{"decision"}, // approved, rejected, expired
		),

		ExecutionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_executions_total",
				Help: "Routing changes attempted after approval",
			},
			[]string{"result"},
		),

		ReasoningDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_reasoning_duration_seconds",
				Help:    "Latency of calls into the reasoning service",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"op", "result"}, // result: ok, error, circuit_open
		),

		Sessions: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sentinel_sessions",
				Help: "Persisted sessions by status at the last collection",
			},
			[]string{"status"},
		),

		StaleApprovals: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_stale_approvals",
				Help: "Proposals waiting for approval longer than the stale threshold",
			},
		),

		AlertsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_alerts_sent_total",
				Help: "Alerts delivered to the webhook",
			},
			[]string{"type"},
		),

		CircuitOpen: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sentinel_circuit_open",
				Help: "1 while the named circuit breaker rejects calls",
			},
			[]string{"name"},
		),

		CircuitFailures: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sentinel_circuit_consecutive_failures",
				Help: "Consecutive failures counted by the named circuit breaker",
			},
			[]string{"name"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) CycleFinished(outcome string, elapsed time.Duration) {
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) Proposed(kind model.ActionKind) {
	m.ProposalsTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) Resolved(decision string) {
	m.ResolutionsTotal.WithLabelValues(decision).Inc()
}

func (m *Metrics) Executed(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.ExecutionsTotal.WithLabelValues(result).Inc()
}

// ObserveReasoning records one reasoning call. Its signature matches
// reasoning.Observer.
func (m *Metrics) ObserveReasoning(op string, elapsed time.Duration, err error) {
	result := "ok"
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		result = "circuit_open"
	case err != nil:
		result = "error"
	}
	m.ReasoningDuration.WithLabelValues(op, result).Observe(elapsed.Seconds())
}

// ObserveSessions publishes the gauges from a collected snapshot.
func (m *Metrics) ObserveSessions(snap *SessionSnapshot) {
	for status, n := range snap.ByStatus() {
		m.Sessions.WithLabelValues(status).Set(float64(n))
	}
	m.StaleApprovals.Set(float64(len(snap.StaleApprovals)))
	for _, b := range snap.Breakers {
		open := 0.0
		if b.Open() {
			open = 1
		}
		m.CircuitOpen.WithLabelValues(b.Name).Set(open)
		m.CircuitFailures.WithLabelValues(b.Name).Set(float64(b.Failures))
	}
}
