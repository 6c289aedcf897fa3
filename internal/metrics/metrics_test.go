package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordOrderConfirmed()
	m.RecordOrderConfirmed()
	m.RecordCodeCollision()
	m.RecordStockFailure("decrement")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ordersConfirmed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.codeCollisions))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.stockFailures.WithLabelValues("decrement")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOrderConfirmed()
		m.RecordMessage("order", "ok")
		m.RecordDatabaseQuery(DBQueryTypeSelect, true, time.Millisecond)
	})
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordOrderCancelled()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "orderbot_orders_cancelled_total 1")
}
