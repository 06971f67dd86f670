package enums

import "fmt"

// NotificationType classifies in-app notifications raised by order activity.
type NotificationType string

const (
	NotificationTypeOrderPlaced    NotificationType = "order_placed"
	NotificationTypeOrderReceived  NotificationType = "order_received"
	NotificationTypeOrderStatus    NotificationType = "order_status"
	NotificationTypeOrderCancelled NotificationType = "order_cancelled"
	NotificationTypeOrderPaid      NotificationType = "order_paid"
	NotificationTypeInventoryAdded NotificationType = "inventory_added"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrderPlaced,
	NotificationTypeOrderReceived,
	NotificationTypeOrderStatus,
	NotificationTypeOrderCancelled,
	NotificationTypeOrderPaid,
	NotificationTypeInventoryAdded,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}

// NotificationPriority orders notifications in the recipient's inbox.
type NotificationPriority string

const (
	NotificationPriorityLow    NotificationPriority = "low"
	NotificationPriorityNormal NotificationPriority = "normal"
	NotificationPriorityHigh   NotificationPriority = "high"
)

var validNotificationPriorities = []NotificationPriority{
	NotificationPriorityLow,
	NotificationPriorityNormal,
	NotificationPriorityHigh,
}

// IsValid checks whether the priority is known.
func (p NotificationPriority) IsValid() bool {
	for _, candidate := range validNotificationPriorities {
		if candidate == p {
			return true
		}
	}
	return false
}
