// Package metrics exposes Prometheus collectors for HTTP traffic and the commerce core.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "commerce"

// Recorder owns the collectors registered on a private registry. A nil Recorder is valid
// and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	checkouts       *prometheus.CounterVec
	orderValue      *prometheus.HistogramVec
	stockMovements  *prometheus.CounterVec
	couponRedeemed  prometheus.Counter
	couponRejected  *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	orderTransition *prometheus.CounterVec
	events          *prometheus.CounterVec
}

// New registers every collector plus the Go runtime and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route, method, and status code.",
		}, []string{"route", "method", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route and method.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"route", "method"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "checkouts_total",
			Help: "Checkout attempts by payment method and outcome.",
		}, []string{"payment_method", "outcome"}),
		orderValue: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "order_total_minor_units",
			Help:    "Distribution of placed order totals in minor currency units.",
			Buckets: prometheus.ExponentialBuckets(500, 2, 12),
		}, []string{"currency"}),
		stockMovements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stock_units_moved_total",
			Help: "Absolute stock units moved by ledger reason.",
		}, []string{"reason"}),
		couponRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "coupon_redemptions_total",
			Help: "Coupons redeemed by placed orders.",
		}),
		couponRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "coupon_rejections_total",
			Help: "Coupon evaluations rejected by reason.",
		}, []string{"reason"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payment_webhook_events_total",
			Help: "Payment processor webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		orderTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "order_status_transitions_total",
			Help: "Order status transitions by target status.",
		}, []string{"status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "order_events_published_total",
			Help: "Order events handed to the publisher by type and outcome.",
		}, []string{"type", "outcome"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.httpRequests, r.httpLatency,
		r.checkouts, r.orderValue,
		r.stockMovements,
		r.couponRedeemed, r.couponRejected,
		r.webhookEvents, r.orderTransition, r.events,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry, mainly for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// ObserveRequest records one completed HTTP request.
func (r *Recorder) ObserveRequest(route, method string, status int, latency time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpLatency.WithLabelValues(route, method).Observe(latency.Seconds())
}

// CheckoutSucceeded records a placed order.
func (r *Recorder) CheckoutSucceeded(paymentMethod, currency string, total int64) {
	if r == nil {
		return
	}
	r.checkouts.WithLabelValues(paymentMethod, "success").Inc()
	r.orderValue.WithLabelValues(currency).Observe(float64(total))
}

// CheckoutFailed records an aborted checkout with a short reason label.
func (r *Recorder) CheckoutFailed(paymentMethod, reason string) {
	if r == nil {
		return
	}
	r.checkouts.WithLabelValues(paymentMethod, reason).Inc()
}

// StockMoved records ledger movement volume.
func (r *Recorder) StockMoved(reason string, delta int) {
	if r == nil {
		return
	}
	if delta < 0 {
		delta = -delta
	}
	r.stockMovements.WithLabelValues(reason).Add(float64(delta))
}

// CouponRedeemed counts a redemption.
func (r *Recorder) CouponRedeemed() {
	if r == nil {
		return
	}
	r.couponRedeemed.Inc()
}

// CouponRejected counts a failed coupon evaluation.
func (r *Recorder) CouponRejected(reason string) {
	if r == nil {
		return
	}
	r.couponRejected.WithLabelValues(reason).Inc()
}

// WebhookProcessed counts a payment webhook delivery.
func (r *Recorder) WebhookProcessed(eventType, outcome string) {
	if r == nil {
		return
	}
	r.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// OrderTransitioned counts an order status change.
func (r *Recorder) OrderTransitioned(status string) {
	if r == nil {
		return
	}
	r.orderTransition.WithLabelValues(status).Inc()
}

// EventPublished counts an order event publish attempt.
func (r *Recorder) EventPublished(eventType string, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.events.WithLabelValues(eventType, outcome).Inc()
}
