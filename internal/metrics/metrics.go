// Package metrics holds the Prometheus instruments for linking, scoring and reconciliation.
// Every method is safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pledge"

// Metrics provides observability for the pledge pipeline.
type Metrics struct {
	// Linking outcomes by terminal status
	LinkingOutcomes *prometheus.CounterVec

	// Oracle calls by result: ok, timeout, unavailable, malformed
	OracleCalls *prometheus.CounterVec

	// Oracle call latency, including retries inside the completer
	OracleLatency prometheus.Histogram

	// Prefilter candidates handed to the oracle per evidence item
	Candidates prometheus.Histogram

	// Promise links added or removed by ApplyLinks
	LinkChanges *prometheus.CounterVec

	// Promise progress rewrites
	PromisesRescored prometheus.Counter

	// Reconciliation repairs by kind
	Repairs *prometheus.CounterVec

	// Batch run duration by run type: link, score, reconcile
	RunDuration *prometheus.HistogramVec
}

// New creates a Metrics instance registered with reg. Pass prometheus.DefaultRegisterer for
// the process-wide registry, or a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LinkingOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "linking",
			Name:      "outcomes_total",
			Help:      "Evidence items finished by linking status",
		}, []string{"status"}),

		OracleCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "calls_total",
			Help:      "Oracle calls by result",
		}, []string{"result"}),

		OracleLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "call_duration_seconds",
			Help:      "Duration of oracle calls",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
		}),

		Candidates: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prefilter",
			Name:      "candidates",
			Help:      "Candidate promises per evidence item",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 30, 40, 50},
		}),

		LinkChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "linking",
			Name:      "link_changes_total",
			Help:      "Evidence/promise links added or removed",
		}, []string{"change"}),

		PromisesRescored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "promises_rescored_total",
			Help:      "Promise progress rewrites",
		}),

		Repairs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "repairs_total",
			Help:      "Cross-reference repairs applied by kind",
		}, []string{"kind"}),

		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of batch runs by type",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"run"}),
	}
}

// RecordOutcome records one evidence item reaching a linking status.
func (m *Metrics) RecordOutcome(status string) {
	if m != nil {
		m.LinkingOutcomes.WithLabelValues(status).Inc()
	}
}

// ObserveOracleCall records an oracle call result and its duration.
func (m *Metrics) ObserveOracleCall(result string, d time.Duration) {
	if m != nil {
		m.OracleCalls.WithLabelValues(result).Inc()
		m.OracleLatency.Observe(d.Seconds())
	}
}

// ObserveCandidates records the candidate count for one evidence item.
func (m *Metrics) ObserveCandidates(n int) {
	if m != nil {
		m.Candidates.Observe(float64(n))
	}
}

// RecordLinkChanges records links added and removed by one ApplyLinks call.
func (m *Metrics) RecordLinkChanges(added, removed int) {
	if m != nil {
		m.LinkChanges.WithLabelValues("added").Add(float64(added))
		m.LinkChanges.WithLabelValues("removed").Add(float64(removed))
	}
}

// RecordRescore records one promise progress rewrite.
func (m *Metrics) RecordRescore() {
	if m != nil {
		m.PromisesRescored.Inc()
	}
}

// RecordRepair records one applied reconciliation repair.
func (m *Metrics) RecordRepair(kind string) {
	if m != nil {
		m.Repairs.WithLabelValues(kind).Inc()
	}
}

// ObserveRun records the duration of a batch run.
func (m *Metrics) ObserveRun(run string, d time.Duration) {
	if m != nil {
		m.RunDuration.WithLabelValues(run).Observe(d.Seconds())
	}
}
