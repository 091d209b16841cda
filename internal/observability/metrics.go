package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/i474232898/river-flow-aggregation/internal/river"
	"github.com/i474232898/river-flow-aggregation/internal/store"
)

const namespace = "riverflow"

var trackedAgencies = []river.Agency{river.AgencyUSGS, river.AgencyState}

// Metrics holds the Prometheus collectors for fetches, reconciliation and
// snapshot publication.
type Metrics struct {
	SourceFetches       *prometheus.CounterVec   // labels: source, outcome
	SourceFetchDuration *prometheus.HistogramVec // labels: source
	RowsSkippedTotal    *prometheus.CounterVec   // labels: source
	FlowUpdates         *prometheus.CounterVec   // labels: result={applied,stale,unchanged}
	RefreshCycles       *prometheus.CounterVec   // labels: outcome={complete,partial,failed}

	SnapshotVersion prometheus.Gauge
	Stations        *prometheus.GaugeVec // labels: agency
}

func newMetrics() *Metrics {
	return &Metrics{
		SourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetch_total",
			Help:      "Upstream fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		SourceFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Upstream fetch duration including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		RowsSkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Malformed or rejected upstream rows.",
		}, []string{"source"}),
		FlowUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_updates_total",
			Help:      "Per-station flow updates by merge result.",
		}, []string{"result"}),
		RefreshCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_cycles_total",
			Help:      "Full refresh cycles by outcome.",
		}, []string{"outcome"}),
		SnapshotVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_version",
			Help:      "Version of the currently published dataset snapshot.",
		}),
		Stations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stations",
			Help:      "Stations in the published snapshot by agency.",
		}, []string{"agency"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SourceFetches,
		m.SourceFetchDuration,
		m.RowsSkippedTotal,
		m.FlowUpdates,
		m.RefreshCycles,
		m.SnapshotVersion,
		m.Stations,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered with a fresh registry to
// avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() (*Metrics, *prometheus.Registry) {
	m := newMetrics()
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.collectors()...)
	return m, reg
}

func (m *Metrics) ObserveFetch(source river.SourceKind, outcome string, elapsed time.Duration) {
	m.SourceFetches.WithLabelValues(string(source), outcome).Inc()
	m.SourceFetchDuration.WithLabelValues(string(source)).Observe(elapsed.Seconds())
}

func (m *Metrics) RowsSkipped(source river.SourceKind, n int) {
	m.RowsSkippedTotal.WithLabelValues(string(source)).Add(float64(n))
}

func (m *Metrics) FlowUpdate(result string) {
	m.FlowUpdates.WithLabelValues(result).Inc()
}

func (m *Metrics) RefreshCycle(outcome string) {
	m.RefreshCycles.WithLabelValues(outcome).Inc()
}

// ObserveSnapshot is a store.PublishHook recording the version and size of
// each published snapshot.
func (m *Metrics) ObserveSnapshot(s *store.Snapshot) {
	m.SnapshotVersion.Set(float64(s.Version()))
	counts := s.CountByAgency()
	for _, a := range trackedAgencies {
		m.Stations.WithLabelValues(string(a)).Set(float64(counts[a]))
	}
}
