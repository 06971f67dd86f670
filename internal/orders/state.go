package orders

import (
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
)

// transitions lists every allowed move. Statuses only move forward; cancelled and
// refunded are reachable from any non-terminal status.
var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:    {enums.OrderStatusConfirmed, enums.OrderStatusCancelled, enums.OrderStatusRefunded},
	enums.OrderStatusConfirmed:  {enums.OrderStatusProcessing, enums.OrderStatusCancelled, enums.OrderStatusRefunded},
	enums.OrderStatusProcessing: {enums.OrderStatusShipped, enums.OrderStatusCancelled, enums.OrderStatusRefunded},
	enums.OrderStatusShipped:    {enums.OrderStatusDelivered, enums.OrderStatusCancelled, enums.OrderStatusRefunded},
}

// fulfilment is the forward chain walked when a later status is requested implicitly.
var fulfilment = []enums.OrderStatus{
	enums.OrderStatusPending,
	enums.OrderStatusConfirmed,
	enums.OrderStatusProcessing,
	enums.OrderStatusShipped,
	enums.OrderStatusDelivered,
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to enums.OrderStatus) error {
	if !to.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown order status "+string(to))
	}
	if !CanTransition(from, to) {
		return pkgerrors.NewInvalidTransition(string(from), string(to))
	}
	return nil
}

// pathTo returns the fulfilment steps after from up to and including to, or nil when to
// is not ahead of from on the chain.
func pathTo(from, to enums.OrderStatus) []enums.OrderStatus {
	start, end := -1, -1
	for i, status := range fulfilment {
		if status == from {
			start = i
		}
		if status == to {
			end = i
		}
	}
	if start < 0 || end <= start {
		return nil
	}
	return append([]enums.OrderStatus(nil), fulfilment[start+1:end+1]...)
}

// timestampColumn is the orders column stamped when entering status.
func timestampColumn(status enums.OrderStatus) string {
	switch status {
	case enums.OrderStatusConfirmed:
		return "confirmed_at"
	case enums.OrderStatusProcessing:
		return "processing_at"
	case enums.OrderStatusShipped:
		return "shipped_at"
	case enums.OrderStatusDelivered:
		return "delivered_at"
	case enums.OrderStatusCancelled:
		return "cancelled_at"
	case enums.OrderStatusRefunded:
		return "refunded_at"
	}
	return ""
}
