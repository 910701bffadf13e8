// Package observability holds the Prometheus metrics for ingestion and edits.
//
// Metrics are registered on an injected Registerer so tests can use a private
// registry; the daemon passes prometheus.DefaultRegisterer and exposes them on
// /metrics. A nil *Metrics is valid and records nothing.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

const metricsNamespace = "collections"

// Row outcomes.
const (
	RowAdded    = "added"
	RowRejected = "rejected"
)

// Update outcomes.
const (
	UpdateApplied  = "applied"
	UpdateLocked   = "locked"
	UpdateNotFound = "not_found"
	UpdateInvalid  = "invalid"
	UpdateError    = "error"
)

// Metrics holds all counters for the ledger.
type Metrics struct {
	reg prometheus.Registerer

	// RowsTotal counts ingested rows. Labels: outcome (added, rejected)
	RowsTotal *prometheus.CounterVec
	// BatchesTotal counts ingestion batches.
	BatchesTotal prometheus.Counter
	// UpdatesTotal counts edit attempts. Labels: outcome
	UpdatesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		RowsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ingest",
				Name:      "rows_total",
				Help:      "Rows seen by the ingestion pipeline by outcome",
			},
			[]string{"outcome"},
		),
		BatchesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Ingestion batches processed",
		}),
		UpdatesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "mutation",
				Name:      "updates_total",
				Help:      "Record update attempts by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// TrackStore registers gauges that read the record counts from stats on
// every scrape.
func (m *Metrics) TrackStore(stats func() schema.Stats) {
	if m == nil {
		return
	}
	f := promauto.With(m.reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Name:        "records",
		Help:        "Records currently held by the store",
		ConstLabels: prometheus.Labels{"state": "read_only"},
	}, func() float64 { return float64(stats().Locked) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Name:        "records",
		Help:        "Records currently held by the store",
		ConstLabels: prometheus.Labels{"state": "editable"},
	}, func() float64 { return float64(stats().Editable) })
}

// ObserveBatch records one finished batch.
func (m *Metrics) ObserveBatch(added, rejected int) {
	if m == nil {
		return
	}
	m.BatchesTotal.Inc()
	m.RowsTotal.WithLabelValues(RowAdded).Add(float64(added))
	m.RowsTotal.WithLabelValues(RowRejected).Add(float64(rejected))
}

// ObserveUpdate records one update attempt.
func (m *Metrics) ObserveUpdate(outcome string) {
	if m == nil {
		return
	}
	m.UpdatesTotal.WithLabelValues(outcome).Inc()
}
