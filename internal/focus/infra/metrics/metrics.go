// Package metrics defines the daemon's Prometheus instruments. A nil *Metrics
// is valid and records nothing, so components can be built without one.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "focusd"

// Metrics groups every instrument the daemon exports.
type Metrics struct {
	reconciles       *prometheus.CounterVec
	reconcileLatency *prometheus.HistogramVec
	driftChecks      *prometheus.CounterVec
	installedRules   prometheus.Gauge
	degraded         prometheus.Gauge
	deliveries       *prometheus.CounterVec
	bridges          prometheus.Gauge
}

// New registers all instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Labels: trigger (demand, drift, startup), result (success, error)
		reconciles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "runs_total",
			Help:      "Reconciliations by trigger and result",
		}, []string{"trigger", "result"}),

		reconcileLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "duration_seconds",
			Help:      "Reconciliation latency including engine apply",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"trigger"}),

		// Labels: outcome (clean, drifted)
		driftChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "drift_checks_total",
			Help:      "Periodic drift checks by outcome",
		}, []string{"outcome"}),

		installedRules: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "installed_rules",
			Help:      "Rules currently installed in the blocking engine",
		}),

		degraded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "degraded",
			Help:      "1 while the last reconciliation failed",
		}),

		// Labels: status (delivered, failed)
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "deliveries_total",
			Help:      "Change event deliveries to page contexts",
		}, []string{"status"}),

		bridges: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "connections",
			Help:      "Connected page bridges",
		}),
	}
}

// ObserveReconcile records one reconciliation.
func (m *Metrics) ObserveReconcile(trigger string, err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.reconciles.WithLabelValues(trigger, result).Inc()
	m.reconcileLatency.WithLabelValues(trigger).Observe(took.Seconds())
	if err != nil {
		m.degraded.Set(1)
	} else {
		m.degraded.Set(0)
	}
}

// ObserveDriftCheck records a drift check outcome.
func (m *Metrics) ObserveDriftCheck(outcome string) {
	if m == nil {
		return
	}
	m.driftChecks.WithLabelValues(outcome).Inc()
}

// SetInstalledRules records the installed rule count.
func (m *Metrics) SetInstalledRules(n int) {
	if m == nil {
		return
	}
	m.installedRules.Set(float64(n))
}

// ObserveDelivery records one delivery attempt.
func (m *Metrics) ObserveDelivery(status string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(status).Inc()
}

// SetBridges records the number of connected bridges.
func (m *Metrics) SetBridges(n int) {
	if m == nil {
		return
	}
	m.bridges.Set(float64(n))
}
