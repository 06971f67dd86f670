package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orders/internal/catalog"
	"github.com/angelmondragon/marketplace-orders/internal/notifications"
	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
	"github.com/angelmondragon/marketplace-orders/pkg/metrics"
	"github.com/angelmondragon/marketplace-orders/pkg/pagination"
)

const defaultDeliveryWindow = 7 * 24 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockRestorer interface {
	IncreaseStock(ctx context.Context, tx *gorm.DB, ref catalog.Ref, qty int, effect *catalog.StockEffect) error
}

type notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, userID uuid.UUID, n notifications.Notification)
}

// Service runs every post-checkout mutation of an order. Each call holds the order row
// lock for its whole transaction.
type Service interface {
	GetOrder(ctx context.Context, actor Actor, id uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, actor Actor, filter ListOrdersInput) (*OrderPage, error)
	UpdateOrderStatus(ctx context.Context, actor Actor, id uuid.UUID, status enums.OrderStatus, note string) (*models.Order, error)
	CancelOrder(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*models.Order, error)
	ExpirePending(ctx context.Context, id uuid.UUID, reason string) (*models.Order, error)
	AddTracking(ctx context.Context, actor Actor, id uuid.UUID, trackingNumber, carrier string) (*models.Order, error)
	MarkAsPaid(ctx context.Context, id uuid.UUID, transactionID, paymentIntentID string) (*models.Order, error)
}

// ListOrdersInput selects the actor's orders as buyer or as seller.
type ListOrdersInput struct {
	AsSeller bool
	Status   *enums.OrderStatus
	pagination.Params
}

// OrderPage is one page of orders, newest first. NextCursor is empty on the last page.
type OrderPage struct {
	Orders     []models.Order
	NextCursor string
}

type Options struct {
	DeliveryWindow time.Duration
	Metrics        *metrics.Orders
	Logger         *logger.Logger
	Now            func() time.Time
}

type service struct {
	repo           Repository
	tx             txRunner
	stock          stockRestorer
	notify         notifier
	deliveryWindow time.Duration
	metrics        *metrics.Orders
	logg           *logger.Logger
	now            func() time.Time
}

// NewService builds the order service.
func NewService(repo Repository, tx txRunner, stock stockRestorer, notify notifier, opts Options) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock restorer required")
	}
	if notify == nil {
		return nil, fmt.Errorf("notifier required")
	}
	svc := &service{
		repo:           repo,
		tx:             tx,
		stock:          stock,
		notify:         notify,
		deliveryWindow: opts.DeliveryWindow,
		metrics:        opts.Metrics,
		logg:           opts.Logger,
		now:            opts.Now,
	}
	if svc.deliveryWindow <= 0 {
		svc.deliveryWindow = defaultDeliveryWindow
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc, nil
}

func (s *service) GetOrder(ctx context.Context, actor Actor, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canView(actor, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) ListOrders(ctx context.Context, actor Actor, input ListOrdersInput) (*OrderPage, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor user id is required")
	}
	cursor, err := pagination.ParseCursor(input.Cursor)
	if err != nil {
		return nil, err
	}
	limit := pagination.NormalizeLimit(input.Limit)
	filter := ListFilter{Status: input.Status, Limit: limit + 1, Cursor: cursor}
	id := actor.UserID
	if input.AsSeller {
		filter.SellerID = &id
	} else {
		filter.BuyerID = &id
	}

	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	page := &OrderPage{}
	page.Orders, page.NextCursor = pagination.Trim(rows, limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return page, nil
}

// UpdateOrderStatus moves the order one step through the transition table. A move to
// cancelled takes the CancelOrder path so stock is restored.
func (s *service) UpdateOrderStatus(ctx context.Context, actor Actor, id uuid.UUID, status enums.OrderStatus, note string) (*models.Order, error) {
	if status == enums.OrderStatusCancelled {
		return s.withOrder(ctx, id, func(tx *gorm.DB, order *models.Order) error {
			if err := canFulfil(actor, order); err != nil {
				return err
			}
			return s.cancel(ctx, tx, actor, order, note)
		})
	}
	return s.withOrder(ctx, id, func(tx *gorm.DB, order *models.Order) error {
		if err := canFulfil(actor, order); err != nil {
			return err
		}
		if err := s.advance(ctx, tx, actor, order, []enums.OrderStatus{status}, note); err != nil {
			return err
		}
		s.notify.Notify(ctx, tx, order.BuyerID, notifications.Notification{
			Type:        enums.NotificationTypeOrderStatus,
			Priority:    enums.NotificationPriorityNormal,
			Title:       "Order updated",
			Message:     fmt.Sprintf("Order %s is now %s.", order.OrderNumber, status),
			Link:        orderLink(order.ID),
			OrderID:     &order.ID,
			OrderNumber: order.OrderNumber,
		})
		return nil
	})
}

func (s *service) CancelOrder(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*models.Order, error) {
	return s.withOrder(ctx, id, func(tx *gorm.DB, order *models.Order) error {
		if err := canCancel(actor, order); err != nil {
			return err
		}
		return s.cancel(ctx, tx, actor, order, reason)
	})
}

// ExpirePending cancels an order on behalf of the system only while it is still pending
// and unpaid under the row lock. Anything else is InvalidState.
func (s *service) ExpirePending(ctx context.Context, id uuid.UUID, reason string) (*models.Order, error) {
	return s.withOrder(ctx, id, func(tx *gorm.DB, order *models.Order) error {
		if order.Status != enums.OrderStatusPending || order.IsPaid {
			return pkgerrors.Newf(pkgerrors.CodeInvalidState, "order is %s (paid=%t); not expiring", order.Status, order.IsPaid)
		}
		return s.cancel(ctx, tx, SystemActor, order, reason)
	})
}

// AddTracking records the shipment and, when the order is not yet shipped, walks it
// forward to shipped one recorded step at a time.
func (s *service) AddTracking(ctx context.Context, actor Actor, id uuid.UUID, trackingNumber, carrier string) (*models.Order, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	carrier = strings.TrimSpace(carrier)
	if trackingNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking number is required")
	}
	return s.withOrder(ctx, id, func(tx *gorm.DB, order *models.Order) error {
		if err := canFulfil(actor, order); err != nil {
			return err
		}
		if order.Status == enums.OrderStatusCancelled || order.Status == enums.OrderStatusRefunded {
			return pkgerrors.NewInvalidTransition(string(order.Status), string(enums.OrderStatusShipped))
		}
		updates := map[string]any{"tracking_number": trackingNumber}
		if carrier != "" {
			updates["carrier"] = carrier
		}
		if err := s.repo.WithTx(tx).Update(ctx, order.ID, updates); err != nil {
			return err
		}
		order.TrackingNumber = &trackingNumber
		if carrier != "" {
			order.Carrier = &carrier
		}

		steps := pathTo(order.Status, enums.OrderStatusShipped)
		if len(steps) == 0 {
			return nil
		}
		if err := s.advance(ctx, tx, actor, order, steps, "Tracking number: "+trackingNumber); err != nil {
			return err
		}
		s.notify.Notify(ctx, tx, order.BuyerID, notifications.Notification{
			Type:        enums.NotificationTypeOrderStatus,
			Priority:    enums.NotificationPriorityNormal,
			Title:       "Order shipped",
			Message:     fmt.Sprintf("Order %s has shipped. Tracking number: %s", order.OrderNumber, trackingNumber),
			Link:        orderLink(order.ID),
			OrderID:     &order.ID,
			OrderNumber: order.OrderNumber,
		})
		return nil
	})
}

// MarkAsPaid records a captured payment. Repeating it with the same transaction id is a
// no-op; a different transaction id on a paid order is a conflict.
func (s *service) MarkAsPaid(ctx context.Context, id uuid.UUID, transactionID, paymentIntentID string) (*models.Order, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	return s.withOrder(ctx, id, func(tx *gorm.DB, order *models.Order) error {
		if order.IsPaid {
			if order.TransactionID != nil && *order.TransactionID == transactionID {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeConflict, "order already paid with another transaction")
		}
		now := s.now()
		updates := map[string]any{
			"is_paid":        true,
			"payment_status": enums.PaymentStatusCompleted,
			"transaction_id": transactionID,
			"paid_at":        now,
		}
		if paymentIntentID != "" {
			updates["payment_intent_id"] = paymentIntentID
			order.PaymentIntentID = &paymentIntentID
		}
		if err := s.repo.WithTx(tx).Update(ctx, order.ID, updates); err != nil {
			return err
		}
		order.IsPaid = true
		order.PaymentStatus = enums.PaymentStatusCompleted
		order.TransactionID = &transactionID
		order.PaidAt = &now

		s.notify.Notify(ctx, tx, order.SellerID, notifications.Notification{
			Type:        enums.NotificationTypeOrderPaid,
			Priority:    enums.NotificationPriorityHigh,
			Title:       "Payment received",
			Message:     fmt.Sprintf("Order %s has been paid.", order.OrderNumber),
			Link:        orderLink(order.ID),
			OrderID:     &order.ID,
			OrderNumber: order.OrderNumber,
		})
		return nil
	})
}

func (s *service) cancel(ctx context.Context, tx *gorm.DB, actor Actor, order *models.Order, reason string) error {
	if err := checkTransition(order.Status, enums.OrderStatusCancelled); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason != "" {
		if err := s.repo.WithTx(tx).Update(ctx, order.ID, map[string]any{"cancellation_reason": reason}); err != nil {
			return err
		}
		order.CancellationReason = &reason
	}
	if err := s.advance(ctx, tx, actor, order, []enums.OrderStatus{enums.OrderStatusCancelled}, reason); err != nil {
		return err
	}
	if err := s.restoreStock(ctx, tx, order); err != nil {
		return err
	}

	msg := fmt.Sprintf("Order %s was cancelled.", order.OrderNumber)
	if reason != "" {
		msg = fmt.Sprintf("Order %s was cancelled. Reason: %s", order.OrderNumber, reason)
	}
	for _, recipient := range []uuid.UUID{order.BuyerID, order.SellerID} {
		s.notify.Notify(ctx, tx, recipient, notifications.Notification{
			Type:        enums.NotificationTypeOrderCancelled,
			Priority:    enums.NotificationPriorityHigh,
			Title:       "Order cancelled",
			Message:     msg,
			Link:        orderLink(order.ID),
			OrderID:     &order.ID,
			OrderNumber: order.OrderNumber,
		})
	}
	return nil
}

// restoreStock gives every line back with the exact accumulator deltas recorded at
// checkout. Listings deleted since then are skipped.
func (s *service) restoreStock(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	for _, line := range order.Items {
		var effect *catalog.StockEffect
		if line.RevenueEffect != nil || line.ProfitEffect != nil {
			effect = &catalog.StockEffect{}
			if line.RevenueEffect != nil {
				effect.Revenue = *line.RevenueEffect
			}
			if line.ProfitEffect != nil {
				effect.Profit = *line.ProfitEffect
			}
		}
		ref := catalog.Ref{ID: line.ItemRef, Kind: line.ItemKind}
		err := s.stock.IncreaseStock(ctx, tx, ref, line.Quantity, effect)
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			logCtx := s.logg.WithOrderID(ctx, order.ID.String())
			s.logg.Warn(s.logg.WithField(logCtx, "item_ref", line.ItemRef.String()), "listing gone; stock not restored")
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// advance applies each status in steps in order, validating every hop.
func (s *service) advance(ctx context.Context, tx *gorm.DB, actor Actor, order *models.Order, steps []enums.OrderStatus, note string) error {
	repo := s.repo.WithTx(tx)
	for _, next := range steps {
		if err := checkTransition(order.Status, next); err != nil {
			return err
		}
		now := s.now()
		updates := map[string]any{"status": next}
		if col := timestampColumn(next); col != "" {
			updates[col] = now
		}
		if next == enums.OrderStatusShipped && order.EstimatedDeliveryDate == nil {
			eta := now.Add(s.deliveryWindow)
			updates["estimated_delivery_date"] = eta
			order.EstimatedDeliveryDate = &eta
		}
		if next == enums.OrderStatusRefunded && order.IsPaid {
			updates["payment_status"] = enums.PaymentStatusRefunded
			order.PaymentStatus = enums.PaymentStatusRefunded
		}
		if err := repo.Update(ctx, order.ID, updates); err != nil {
			return err
		}

		entry := models.OrderStatusEntry{
			OrderID:   order.ID,
			Status:    next,
			UpdatedBy: actor.updatedBy(),
			ActorRole: actor.role(),
			CreatedAt: now,
		}
		if note != "" {
			n := note
			entry.Note = &n
		}
		if err := repo.AppendHistory(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append status history")
		}
		s.metrics.ObserveTransition(order.Status, next)
		stampStatus(order, next, now)
		order.StatusHistory = append(order.StatusHistory, entry)
	}
	return nil
}

func (s *service) withOrder(ctx context.Context, id uuid.UUID, fn func(tx *gorm.DB, order *models.Order) error) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	ctx = s.logg.WithOrderID(ctx, id.String())
	var out *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.repo.WithTx(tx).FindForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, order); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			s.logg.Error(ctx, "order update failed", err)
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order")
		}
		return nil, err
	}
	return out, nil
}

func stampStatus(order *models.Order, status enums.OrderStatus, at time.Time) {
	order.Status = status
	switch status {
	case enums.OrderStatusConfirmed:
		order.ConfirmedAt = &at
	case enums.OrderStatusProcessing:
		order.ProcessingAt = &at
	case enums.OrderStatusShipped:
		order.ShippedAt = &at
	case enums.OrderStatusDelivered:
		order.DeliveredAt = &at
	case enums.OrderStatusCancelled:
		order.CancelledAt = &at
	case enums.OrderStatusRefunded:
		order.RefundedAt = &at
	}
}

func orderLink(id uuid.UUID) string {
	return "/orders/" + id.String()
}
