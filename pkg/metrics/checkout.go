package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Checkout records checkout attempts, outcomes and the orders they produce.
type Checkout struct {
	attempts      *prometheus.CounterVec
	failures      *prometheus.CounterVec
	ordersCreated prometheus.Counter
	duration      *prometheus.HistogramVec
}

func NewCheckout(reg prometheus.Registerer) *Checkout {
	if reg == nil {
		return &Checkout{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_attempts_total",
		Help: "Checkout attempts by entry point and outcome.",
	}, []string{"source", "outcome"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_failures_total",
		Help: "Failed checkouts by error code.",
	}, []string{"source", "reason"})
	ordersCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkout_orders_created_total",
		Help: "Orders created by successful checkouts.",
	})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_duration_seconds",
		Help:    "Checkout duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
	reg.MustRegister(attempts, failures, ordersCreated, duration)
	return &Checkout{
		attempts:      attempts,
		failures:      failures,
		ordersCreated: ordersCreated,
		duration:      duration,
	}
}

func (c *Checkout) ObserveSuccess(source string, orders int, elapsed time.Duration) {
	if c == nil || c.attempts == nil {
		return
	}
	c.attempts.WithLabelValues(source, "success").Inc()
	c.ordersCreated.Add(float64(orders))
	c.duration.WithLabelValues(source).Observe(elapsed.Seconds())
}

func (c *Checkout) ObserveFailure(source, reason string, elapsed time.Duration) {
	if c == nil || c.attempts == nil {
		return
	}
	c.attempts.WithLabelValues(source, "failure").Inc()
	c.failures.WithLabelValues(source, normalizeLabel(reason)).Inc()
	c.duration.WithLabelValues(source).Observe(elapsed.Seconds())
}
