package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

// Metrics holds the checkout and reconciliation collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CheckoutsTotal        *prometheus.CounterVec
	ReconciliationsTotal  *prometheus.CounterVec
	CallbackRejectedTotal prometheus.Counter

	GatewayRequestsTotal   *prometheus.CounterVec
	GatewayRequestDuration *prometheus.HistogramVec

	InventoryAdjustmentsTotal *prometheus.CounterVec
	InventoryOversellTotal    prometheus.Counter

	RateLimitedTotal *prometheus.CounterVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
		CheckoutsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "attempts_total",
			Help:      "Checkout attempts by result",
		}, []string{"result"}),
		ReconciliationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "reconciliations_total",
			Help:      "Payment outcome reconciliations by source and outcome",
		}, []string{"source", "outcome"}),
		CallbackRejectedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "callback_signature_rejected_total",
			Help:      "Callbacks dropped because the signature did not verify",
		}),
		GatewayRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Payment gateway requests by operation and result",
		}, []string{"operation", "result"}),
		GatewayRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Payment gateway request duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		InventoryAdjustmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "adjustments_total",
			Help:      "Stock decrements by result",
		}, []string{"result"}),
		InventoryOversellTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "oversell_total",
			Help:      "Stock decrements that left a variant below zero",
		}),
		RateLimitedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}, []string{"path"}),
	}
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) RecordCheckout(result string) {
	if m == nil {
		return
	}
	m.CheckoutsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordReconciliation(source, outcome string) {
	if m == nil {
		return
	}
	m.ReconciliationsTotal.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) RecordCallbackRejected() {
	if m == nil {
		return
	}
	m.CallbackRejectedTotal.Inc()
}

func (m *Metrics) RecordGatewayRequest(operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayRequestsTotal.WithLabelValues(operation, result).Inc()
	m.GatewayRequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) RecordInventoryAdjustment(result string) {
	if m == nil {
		return
	}
	m.InventoryAdjustmentsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordOversell() {
	if m == nil {
		return
	}
	m.InventoryOversellTotal.Inc()
}

func (m *Metrics) RecordRateLimited(path string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(path).Inc()
}
