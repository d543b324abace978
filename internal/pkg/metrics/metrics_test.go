package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTransaction("deposit", "succeeded")
	m.ObserveTransaction("deposit", "succeeded")
	m.ObserveRefresh("ok")
	m.ObservePhase("approving", 2*time.Second)
	m.ObserveSessionChange()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transactions.WithLabelValues("deposit", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.balanceRefreshes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionChanges))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTransaction("withdraw", "failed")
		m.ObservePhase("confirming", time.Second)
		m.ObserveRefresh("error")
		m.ObserveResolution("ok")
		m.ObserveSessionChange()
	})
}
