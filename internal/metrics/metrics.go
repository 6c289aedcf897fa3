package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DB query types recorded by the gorm hooks
const (
	DBQueryTypeSelect = "select"
	DBQueryTypeInsert = "insert"
	DBQueryTypeUpdate = "update"
	DBQueryTypeDelete = "delete"
)

// Metrics is the service's metrics collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	messagesHandled      *prometheus.CounterVec
	ordersConfirmed      prometheus.Counter
	ordersCancelled      prometheus.Counter
	confirmationFailures *prometheus.CounterVec
	codeCollisions       prometheus.Counter
	emergencyCodes       prometheus.Counter
	stockFailures        *prometheus.CounterVec
	sagasRecovered       *prometheus.CounterVec
	dbQueries            *prometheus.HistogramVec
	httpRequests         *prometheus.HistogramVec
}

// NewMetrics creates a collector with its own registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbot_messages_handled_total",
			Help: "Inbound chat messages handled, by flow and outcome.",
		}, []string{"flow", "outcome"}),
		ordersConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderbot_orders_confirmed_total",
			Help: "Orders persisted by the confirmation pipeline.",
		}),
		ordersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderbot_orders_cancelled_total",
			Help: "Orders cancelled.",
		}),
		confirmationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbot_confirmation_failures_total",
			Help: "Confirmations that stopped at a step.",
		}, []string{"step"}),
		codeCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderbot_tracking_code_collisions_total",
			Help: "Tracking code candidates rejected as already used.",
		}),
		emergencyCodes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderbot_tracking_code_emergency_total",
			Help: "Tracking codes issued from the emergency fallback.",
		}),
		stockFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbot_stock_update_failures_total",
			Help: "Per-line stock updates that failed.",
		}, []string{"operation"}),
		sagasRecovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbot_sagas_recovered_total",
			Help: "Stale confirmation sagas processed by the recovery job.",
		}, []string{"outcome"}),
		dbQueries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orderbot_db_query_duration_seconds",
			Help:    "Database query latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type", "status"}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orderbot_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messagesHandled,
		m.ordersConfirmed,
		m.ordersCancelled,
		m.confirmationFailures,
		m.codeCollisions,
		m.emergencyCodes,
		m.stockFailures,
		m.sagasRecovered,
		m.dbQueries,
		m.httpRequests,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordMessage counts a handled chat message
func (m *Metrics) RecordMessage(flow, outcome string) {
	if m == nil {
		return
	}
	m.messagesHandled.WithLabelValues(flow, outcome).Inc()
}

// RecordOrderConfirmed counts a persisted order
func (m *Metrics) RecordOrderConfirmed() {
	if m == nil {
		return
	}
	m.ordersConfirmed.Inc()
}

// RecordOrderCancelled counts a cancellation
func (m *Metrics) RecordOrderCancelled() {
	if m == nil {
		return
	}
	m.ordersCancelled.Inc()
}

// RecordConfirmationFailure counts a confirmation that stopped at step
func (m *Metrics) RecordConfirmationFailure(step string) {
	if m == nil {
		return
	}
	m.confirmationFailures.WithLabelValues(step).Inc()
}

// RecordCodeCollision counts a rejected tracking code candidate
func (m *Metrics) RecordCodeCollision() {
	if m == nil {
		return
	}
	m.codeCollisions.Inc()
}

// RecordEmergencyCode counts an emergency tracking code
func (m *Metrics) RecordEmergencyCode() {
	if m == nil {
		return
	}
	m.emergencyCodes.Inc()
}

// RecordStockFailure counts a failed per-line stock update
func (m *Metrics) RecordStockFailure(operation string) {
	if m == nil {
		return
	}
	m.stockFailures.WithLabelValues(operation).Inc()
}

// RecordSagaRecovery counts a saga processed by the recovery job
func (m *Metrics) RecordSagaRecovery(outcome string) {
	if m == nil {
		return
	}
	m.sagasRecovered.WithLabelValues(outcome).Inc()
}

// RecordDatabaseQuery observes one database query
func (m *Metrics) RecordDatabaseQuery(queryType string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	m.dbQueries.WithLabelValues(queryType, status).Observe(duration.Seconds())
}

// RecordHTTPRequest observes one HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
