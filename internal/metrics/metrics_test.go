package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMetrics(t *testing.T) {
	m := New(zap.NewNop(), prometheus.NewRegistry())

	m.RecordIncome("roi", 5000)
	m.RecordIncome("roi", 250)
	m.RecordCycle("roi", 3, 1, 1, 2*time.Second)
	m.RecordPurchase(true, 1_000_000)
	m.RecordPurchase(false, 0)
	m.RecordWithdrawal(true)
	m.RecordStructuralInconsistency("cycle")
	m.RecordLockContention("purchase")
	m.SetGauge("token_price_usd", 0.0001)

	assert.Equal(t, 5250.0, testutil.ToFloat64(m.incomeCredited.WithLabelValues("roi")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.incomeRecords.WithLabelValues("roi")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycleRuns.WithLabelValues("roi", "partial")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.cycleUsers.WithLabelValues("roi", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.purchases.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.structuralAlarm.WithLabelValues("cycle")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.activeUsers))
	assert.Equal(t, 0.0001, testutil.ToFloat64(m.tokenPrice))

	// неизвестные имена только логируются
	m.IncrementCounter("unknown_total")
	m.SetGauge("unknown", 1)
	m.ObserveHistogram("unknown", 1)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordIncome("binary", 1)
		m.RecordCycle("binary", 1, 0, 0, time.Second)
		m.RecordStructuralInconsistency("self_parent")
		m.RecordWithdrawal(false)
	})
}

func TestHealthHandler(t *testing.T) {
	m := New(zap.NewNop(), prometheus.NewRegistry())

	t.Run("все проверки пройдены", func(t *testing.T) {
		h := NewHandler(m, map[string]HealthChecker{
			"database": func(context.Context) error { return nil },
		}, zap.NewNop())

		rec := httptest.NewRecorder()
		h.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	})

	t.Run("база недоступна", func(t *testing.T) {
		h := NewHandler(m, map[string]HealthChecker{
			"database": func(context.Context) error { return errors.New("connection refused") },
		}, zap.NewNop())

		rec := httptest.NewRecorder()
		h.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "connection refused")
	})
}

func TestMetricsHandler(t *testing.T) {
	m := New(zap.NewNop(), prometheus.NewRegistry())
	m.RecordIncome("level", 12)

	rec := httptest.NewRecorder()
	NewHandler(m, nil, zap.NewNop()).MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `income_credited_tokens_total{type="level"} 12`)
}
