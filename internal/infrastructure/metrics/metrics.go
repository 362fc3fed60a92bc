// Package metrics exposes Prometheus collectors for the sync engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tempo"

// Metrics holds the sync engine collectors. Every engine registers them on
// its own registry so several engines can live in one process.
type Metrics struct {
	Registry *prometheus.Registry

	CyclesTotal      *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	MutationsApplied *prometheus.CounterVec
	ConflictsTotal   prometheus.Counter
	RejectionsTotal  prometheus.Counter
	ResolutionsTotal *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	PendingConflicts prometheus.Gauge
	Online           prometheus.Gauge
	ConnectedDevices prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_cycles_total",
				Help:      "Total number of sync cycles by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),

		// Buckets: 10ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s, 30s
		CycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_cycle_duration_seconds",
				Help:      "Duration of sync cycles in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		MutationsApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_applied_total",
				Help:      "Mutations applied to the remote store by detector path",
			},
			[]string{"path"},
		),

		ConflictsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflicts_detected_total",
				Help:      "Conflicts detected during sync cycles",
			},
		),

		RejectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_rejected_total",
				Help:      "Mutations permanently rejected by the remote store",
			},
		),

		ResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflict_resolutions_total",
				Help:      "Manual conflict resolutions by choice and result",
			},
			[]string{"choice", "result"},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Mutations waiting in the outbox",
			},
		),

		PendingConflicts: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_conflicts",
				Help:      "Unresolved conflicts",
			},
		),

		Online: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "online",
				Help:      "1 when the network is considered online",
			},
		),

		ConnectedDevices: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connected_devices",
				Help:      "Other devices syncing the same account",
			},
		),
	}
}

// RecordCycle records a finished cycle.
func (m *Metrics) RecordCycle(trigger, outcome string, d time.Duration) {
	m.CyclesTotal.WithLabelValues(trigger, outcome).Inc()
	m.CycleDuration.Observe(d.Seconds())
}

// RecordApplied records a mutation applied through path.
func (m *Metrics) RecordApplied(path string) {
	m.MutationsApplied.WithLabelValues(path).Inc()
}

// RecordResolution records a manual resolution attempt.
func (m *Metrics) RecordResolution(choice string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ResolutionsTotal.WithLabelValues(choice, result).Inc()
}

// SetStatus mirrors the status snapshot gauges.
func (m *Metrics) SetStatus(online bool, pending, conflicts, devices int) {
	if online {
		m.Online.Set(1)
	} else {
		m.Online.Set(0)
	}
	m.QueueDepth.Set(float64(pending))
	m.PendingConflicts.Set(float64(conflicts))
	m.ConnectedDevices.Set(float64(devices))
}
