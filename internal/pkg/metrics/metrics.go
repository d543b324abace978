// Package metrics exposes Prometheus instrumentation for the synchronizer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vaultsync"

// Metrics groups the collectors used by the services. A nil *Metrics is valid and records nothing.
type Metrics struct {
	transactions        *prometheus.CounterVec
	phaseDuration       *prometheus.HistogramVec
	balanceRefreshes    *prometheus.CounterVec
	metadataResolutions *prometheus.CounterVec
	sessionChanges      prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transaction requests by kind and terminal outcome.",
		}, []string{"kind", "outcome"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_phase_duration_seconds",
			Help:      "Time spent in each orchestrator phase.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"phase"}),
		balanceRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_refreshes_total",
			Help:      "Balance refreshes by outcome.",
		}, []string{"outcome"}),
		metadataResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_resolutions_total",
			Help:      "Underlying token metadata resolutions by outcome.",
		}, []string{"outcome"}),
		sessionChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_changes_total",
			Help:      "Bound account changes, including connects and disconnects.",
		}),
	}
	reg.MustRegister(m.transactions, m.phaseDuration, m.balanceRefreshes, m.metadataResolutions, m.sessionChanges)
	return m
}

// ObserveTransaction counts a finished request.
func (m *Metrics) ObserveTransaction(kind, outcome string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(kind, outcome).Inc()
}

// ObservePhase records how long a phase lasted.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// ObserveRefresh counts a balance refresh outcome.
func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.balanceRefreshes.WithLabelValues(outcome).Inc()
}

// ObserveResolution counts an underlying metadata resolution.
func (m *Metrics) ObserveResolution(outcome string) {
	if m == nil {
		return
	}
	m.metadataResolutions.WithLabelValues(outcome).Inc()
}

// ObserveSessionChange counts a bound account change.
func (m *Metrics) ObserveSessionChange() {
	if m == nil {
		return
	}
	m.sessionChanges.Inc()
}
