// Package metrics defines the Prometheus collectors of ArtShare.
// All Record methods are safe on a nil *Metrics, so components can run
// with metrics disabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "artshare"

// Cache lookup tiers and results.
const (
	TierLocal    = "local"
	TierExternal = "external"
	TierStore    = "store"

	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultError   = "error"
	ResultCorrupt = "corrupt"
)

// Metrics holds every collector.
type Metrics struct {
	CacheLookups          *prometheus.CounterVec
	StoreErrors           *prometheus.CounterVec
	IDAllocations         *prometheus.CounterVec
	IDPersistFailures     prometheus.Counter
	PointsTransfers       *prometheus.CounterVec
	SagaCompensations     *prometheus.CounterVec
	MaintenanceRuns       *prometheus.CounterVec
	MaintenanceRepairs    prometheus.Counter
	MaintenanceLastRun    prometheus.Gauge
	MaintenanceRunSeconds prometheus.Histogram
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "cache_lookups_total",
			Help:      "Entity lookups by tier and result.",
		}, []string{"tier", "result"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "store_errors_total",
			Help:      "Failed object store operations.",
		}, []string{"op"}),
		IDAllocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "allocations_total",
			Help:      "Allocated entity ids by type.",
		}, []string{"type"}),
		IDPersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "persist_failures_total",
			Help:      "Counter table writes that failed.",
		}),
		PointsTransfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "points",
			Name:      "transfers_total",
			Help:      "Points operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		SagaCompensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "compensations_total",
			Help:      "Compensation steps run by saga and result.",
		}, []string{"saga", "result"}),
		MaintenanceRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "runs_total",
			Help:      "Integrity sweeps by result.",
		}, []string{"result"}),
		MaintenanceRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "repairs_total",
			Help:      "Entities rewritten by integrity sweeps.",
		}),
		MaintenanceLastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed sweep.",
		}),
		MaintenanceRunSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "run_duration_seconds",
			Help:      "Duration of integrity sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CacheLookups,
			m.StoreErrors,
			m.IDAllocations,
			m.IDPersistFailures,
			m.PointsTransfers,
			m.SagaCompensations,
			m.MaintenanceRuns,
			m.MaintenanceRepairs,
			m.MaintenanceLastRun,
			m.MaintenanceRunSeconds,
		)
	}

	return m
}

// RecordLookup counts one tier lookup.
func (m *Metrics) RecordLookup(tier, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

// RecordStoreError counts a failed store operation.
func (m *Metrics) RecordStoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

// RecordAllocation counts an allocated id.
func (m *Metrics) RecordAllocation(typeName string) {
	if m == nil {
		return
	}
	m.IDAllocations.WithLabelValues(typeName).Inc()
}

// RecordPersistFailure counts a failed counter table write.
func (m *Metrics) RecordPersistFailure() {
	if m == nil {
		return
	}
	m.IDPersistFailures.Inc()
}

// RecordTransfer counts a points operation.
func (m *Metrics) RecordTransfer(kind, outcome string) {
	if m == nil {
		return
	}
	m.PointsTransfers.WithLabelValues(kind, outcome).Inc()
}

// RecordCompensation counts one compensation step.
func (m *Metrics) RecordCompensation(saga string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.SagaCompensations.WithLabelValues(saga, result).Inc()
}

// RecordMaintenanceRun records a finished sweep.
func (m *Metrics) RecordMaintenanceRun(seconds float64, repaired int, failed bool) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "failed"
	}
	m.MaintenanceRuns.WithLabelValues(result).Inc()
	m.MaintenanceRepairs.Add(float64(repaired))
	m.MaintenanceRunSeconds.Observe(seconds)
	m.MaintenanceLastRun.SetToCurrentTime()
}
