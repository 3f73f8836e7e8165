// Package metrics holds the Prometheus collectors of the balance reader.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Metrics holds all Prometheus collectors for the application. It is passed
// explicitly to the components that record into it.
type Metrics struct {
	// Card metrics
	readsTotal   *prometheus.CounterVec
	readDuration *prometheus.HistogramVec
	lastBalance  prometheus.Gauge
	intentsTotal *prometheus.CounterVec

	// Reader metrics
	deviceConnected prometheus.Gauge

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	wsActiveClients     prometheus.Gauge
	wsMessagesSent      *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		readsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_reads_total",
				Help: "Total number of balance reads and writes by outcome",
			},
			[]string{"outcome"},
		),
		readDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "balance_read_duration_seconds",
				Help:    "Duration of card connect, authenticate and read",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"outcome"},
		),
		lastBalance: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "balance_last_amount",
				Help: "Amount of the last numeric balance read",
			},
		),
		intentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfc_intents_total",
				Help: "Total number of tag discovery intents by action",
			},
			[]string{"action"},
		),
		deviceConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nfc_device_connected",
				Help: "1 while the card reader is connected",
			},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		wsActiveClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "websocket_active_clients",
				Help: "Number of connected WebSocket display clients",
			},
		),
		wsMessagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "websocket_messages_sent_total",
				Help: "Total number of WebSocket messages sent by type",
			},
			[]string{"type"},
		),
	}
}

// ObserveRead records a finished card operation.
func (m *Metrics) ObserveRead(outcome string, duration time.Duration, amount decimal.NullDecimal) {
	m.readsTotal.WithLabelValues(outcome).Inc()
	m.readDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if amount.Valid {
		m.lastBalance.Set(amount.Decimal.InexactFloat64())
	}
}

// RecordIntent counts a delivered discovery intent.
func (m *Metrics) RecordIntent(action string) {
	m.intentsTotal.WithLabelValues(action).Inc()
}

// SetDeviceConnected records the reader connection state.
func (m *Metrics) SetDeviceConnected(connected bool) {
	if connected {
		m.deviceConnected.Set(1)
	} else {
		m.deviceConnected.Set(0)
	}
}

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordWSClientChange records a change in connected WebSocket clients.
func (m *Metrics) RecordWSClientChange(delta float64) {
	m.wsActiveClients.Add(delta)
}

// RecordWSMessageSent records a WebSocket message being sent.
func (m *Metrics) RecordWSMessageSent(messageType string) {
	m.wsMessagesSent.WithLabelValues(messageType).Inc()
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
