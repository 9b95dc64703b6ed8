package metrics

import (
	"testing"
	"time"

	"viplinks/internal/delivery"
	"viplinks/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryMetrics_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDeliveryMetrics()
	require.NoError(t, m.Register(reg))

	m.ObserveAttempt(delivery.OutcomeConnectionFailure, "connection")
	m.ObserveAttempt(delivery.OutcomeConnectionFailure, "connection")
	m.ObserveAttempt(delivery.OutcomeSuccess, "none")
	m.ObserveTransition(model.PendingDeliveryStatusCompleted)

	m.ObserveCycle(&delivery.CycleSummary{Completed: 1, Retrying: 2, Skipped: 3, TotalConsidered: 6}, 3*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attemptsTotal.WithLabelValues("connection_failure", "connection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attemptsTotal.WithLabelValues("success", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitionsTotal.WithLabelValues("completed")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.cycleConsidered))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cycleResults.WithLabelValues("retrying")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.cycleResults.WithLabelValues("skipped")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.cycleDuration))
}

func TestDeliveryMetrics_RegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, NewDeliveryMetrics().Register(reg))
	assert.Error(t, NewDeliveryMetrics().Register(reg))

	assert.NoError(t, NewDeliveryMetrics().Register(nil))
}
