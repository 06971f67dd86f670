package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-orders/pkg/enums"
)

// Orders counts order status transitions.
type Orders struct {
	transitions *prometheus.CounterVec
}

func NewOrders(reg prometheus.Registerer) *Orders {
	if reg == nil {
		return &Orders{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Order status transitions applied, by source and target status.",
	}, []string{"from", "to"})
	reg.MustRegister(transitions)
	return &Orders{transitions: transitions}
}

func (o *Orders) ObserveTransition(from, to enums.OrderStatus) {
	if o == nil || o.transitions == nil {
		return
	}
	o.transitions.WithLabelValues(string(from), string(to)).Inc()
}
