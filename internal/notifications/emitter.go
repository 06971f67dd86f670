package notifications

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
	"github.com/angelmondragon/marketplace-orders/pkg/outbox"
	"github.com/angelmondragon/marketplace-orders/pkg/outbox/payloads"
)

// Notification is what callers ask to deliver to a user.
type Notification struct {
	Type        enums.NotificationType
	Priority    enums.NotificationPriority
	Title       string
	Message     string
	Link        string
	OrderID     *uuid.UUID
	OrderNumber string
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (string, error)
}

// Emitter queues notification requests on the transactional outbox. Delivery is
// best effort: Notify never fails the caller's transaction.
type Emitter struct {
	outbox outboxEmitter
	logg   *logger.Logger
}

func NewEmitter(out outboxEmitter, logg *logger.Logger) (*Emitter, error) {
	if out == nil {
		return nil, errors.New("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Emitter{outbox: out, logg: logg}, nil
}

// Notify writes a notification_requested event inside a savepoint of tx. A failed write
// rolls back only the savepoint and is logged at warn.
func (e *Emitter) Notify(ctx context.Context, tx *gorm.DB, userID uuid.UUID, n Notification) {
	if n.Priority == "" {
		n.Priority = enums.NotificationPriorityNormal
	}
	aggregateID := userID
	if n.OrderID != nil {
		aggregateID = *n.OrderID
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateOrder,
		AggregateID:   aggregateID,
		Data: payloads.NotificationRequestedEvent{
			UserID:      userID,
			Type:        n.Type,
			Priority:    n.Priority,
			Title:       n.Title,
			Message:     n.Message,
			Link:        n.Link,
			OrderID:     n.OrderID,
			OrderNumber: n.OrderNumber,
		},
	}

	err := tx.Transaction(func(sp *gorm.DB) error {
		if !n.Type.IsValid() {
			return errors.New("invalid notification type " + string(n.Type))
		}
		_, err := e.outbox.Emit(ctx, sp, event)
		return err
	})
	if err != nil {
		logCtx := e.logg.WithFields(ctx, map[string]any{
			"user_id":           userID.String(),
			"notification_type": string(n.Type),
			"error":             err.Error(),
		})
		e.logg.Warn(logCtx, "notification enqueue failed")
	}
}
