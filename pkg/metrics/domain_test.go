package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-orders/pkg/enums"
)

func TestCheckoutMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCheckout(reg)
	m.ObserveSuccess("cart", 2, 40*time.Millisecond)
	m.ObserveFailure("cart", "INSUFFICIENT_STOCK", 10*time.Millisecond)
	m.ObserveFailure("direct", "", 10*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "checkout_failures_total", "reason", "INSUFFICIENT_STOCK"); err != nil || got != 1 {
		t.Fatalf("expected one stock failure, got %v (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "checkout_failures_total", "reason", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected empty reason normalised, got %v (%v)", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "checkout_duration_seconds", "source", "cart"); err != nil || got <= 0 {
		t.Fatalf("expected cart duration, got %v (%v)", got, err)
	}
	mf := findMetricFamily(mfs, "checkout_orders_created_total")
	if mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 2 {
		t.Fatalf("expected 2 orders created")
	}
}

func TestOrdersAndOutboxMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	orders := NewOrders(reg)
	out := NewOutbox(reg)
	orders.ObserveTransition(enums.OrderStatusPending, enums.OrderStatusConfirmed)
	out.IncPublished("notification_requested")
	out.IncDeadLettered("notification_requested", "max_attempts")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "order_status_transitions_total", "to", "confirmed"); err != nil || got != 1 {
		t.Fatalf("expected transition counted, got %v (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_dead_lettered_total", "reason", "max_attempts"); err != nil || got != 1 {
		t.Fatalf("expected dlq counted, got %v (%v)", got, err)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var c *Checkout
	c.ObserveSuccess("cart", 1, time.Second)
	var o *Orders
	o.ObserveTransition(enums.OrderStatusPending, enums.OrderStatusCancelled)
	NewOutbox(nil).IncFailed("x")
	NewCronJobMetrics(nil).ObserveRun("x", time.Second, nil)
}
