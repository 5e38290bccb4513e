// Package metrics provides Prometheus metrics for the clinic services.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	ConsultationsRecorded  prometheus.Counter
	PrescriptionsDispensed prometheus.Counter
	DispenseFailures       *prometheus.CounterVec
	DispenseDuration       prometheus.Histogram
	UnitsDispensed         prometheus.Counter
	BilledAmount           prometheus.Counter
	StockBatchesAdded      prometheus.Counter
	StockCacheLookups      *prometheus.CounterVec
	StockAlerts            *prometheus.CounterVec
	KafkaMessagesProduced  prometheus.Counter
	KafkaMessagesConsumed  prometheus.Counter
	OutboxPending          prometheus.Gauge
	OutboxRelayed          *prometheus.CounterVec
	CircuitBreakerState    *prometheus.GaugeVec
	HTTPRequests           *prometheus.CounterVec
	HTTPDuration           *prometheus.HistogramVec
}

// New creates all metrics and registers them with reg. A nil reg uses the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ConsultationsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_consultations_recorded_total",
			Help: "Total consultations recorded",
		}),
		PrescriptionsDispensed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmacy_prescriptions_dispensed_total",
			Help: "Total prescriptions dispensed",
		}),
		DispenseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmacy_dispense_failures_total",
			Help: "Dispense attempts rejected or rolled back, by reason",
		}, []string{"reason"}),
		DispenseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pharmacy_dispense_duration_seconds",
			Help:    "Dispense transaction duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		UnitsDispensed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmacy_units_dispensed_total",
			Help: "Total units deducted from stock",
		}),
		BilledAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmacy_billed_amount_total",
			Help: "Sum of issued bill totals",
		}),
		StockBatchesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmacy_stock_batches_added_total",
			Help: "Total stock batches received",
		}),
		StockCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmacy_stock_cache_lookups_total",
			Help: "Stock summary cache lookups by result",
		}, []string{"result"}),
		StockAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmacy_stock_alerts_total",
			Help: "Stock alerts raised by kind",
		}, []string{"kind"}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		OutboxRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_relayed_total",
			Help: "Outbox publish attempts by outcome",
		}, []string{"outcome"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.ConsultationsRecorded,
		m.PrescriptionsDispensed,
		m.DispenseFailures,
		m.DispenseDuration,
		m.UnitsDispensed,
		m.BilledAmount,
		m.StockBatchesAdded,
		m.StockCacheLookups,
		m.StockAlerts,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.OutboxRelayed,
		m.CircuitBreakerState,
		m.HTTPRequests,
		m.HTTPDuration,
	)

	return m
}

// Handler returns the Prometheus HTTP handler for the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves a specific gatherer
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ConsultationRecorded() {
	if m == nil {
		return
	}
	m.ConsultationsRecorded.Inc()
}

// Dispensed records a successful dispense
func (m *Metrics) Dispensed(units int, billed float64, took time.Duration) {
	if m == nil {
		return
	}
	m.PrescriptionsDispensed.Inc()
	m.UnitsDispensed.Add(float64(units))
	m.BilledAmount.Add(billed)
	m.DispenseDuration.Observe(took.Seconds())
}

func (m *Metrics) DispenseFailed(reason string) {
	if m == nil {
		return
	}
	m.DispenseFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) StockBatchAdded() {
	if m == nil {
		return
	}
	m.StockBatchesAdded.Inc()
}

// CacheLookup records a stock summary cache hit or miss
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.StockCacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) StockAlert(kind string) {
	if m == nil {
		return
	}
	m.StockAlerts.WithLabelValues(kind).Inc()
}

func (m *Metrics) MessageProduced() {
	if m == nil {
		return
	}
	m.KafkaMessagesProduced.Inc()
}

func (m *Metrics) MessageConsumed() {
	if m == nil {
		return
	}
	m.KafkaMessagesConsumed.Inc()
}

func (m *Metrics) SetOutboxPending(n int64) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// OutboxPublished records one relay attempt
func (m *Metrics) OutboxPublished(ok bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "published"
	}
	m.OutboxRelayed.WithLabelValues(outcome).Inc()
}

// SetBreakerState exports a breaker state as 0, 1 or 2
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveHTTP records a completed request
func (m *Metrics) ObserveHTTP(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
