package payloads

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orders/pkg/enums"
)

// NotificationRequestedEvent asks the worker to persist an in-app notification for UserID.
type NotificationRequestedEvent struct {
	UserID      uuid.UUID                  `json:"userId"`
	Type        enums.NotificationType     `json:"type"`
	Priority    enums.NotificationPriority `json:"priority"`
	Title       string                     `json:"title"`
	Message     string                     `json:"message"`
	Link        string                     `json:"link,omitempty"`
	OrderID     *uuid.UUID                 `json:"orderId,omitempty"`
	OrderNumber string                     `json:"orderNumber,omitempty"`
}
