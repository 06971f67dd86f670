package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orders/pkg/enums"
)

// Notification stores in-app notification payloads addressed to a user.
type Notification struct {
	ID        uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	EventID   *uuid.UUID                 `gorm:"column:event_id;type:uuid"`
	UserID    uuid.UUID                  `gorm:"column:user_id;type:uuid;not null"`
	Type      enums.NotificationType     `gorm:"column:type;type:text;not null"`
	Priority  enums.NotificationPriority `gorm:"column:priority;type:text;not null;default:'normal'"`
	Title     string                     `gorm:"column:title;type:text;not null"`
	Message   string                     `gorm:"column:message;type:text;not null"`
	Link      *string                    `gorm:"column:link;type:text"`
	ReadAt    *time.Time                 `gorm:"column:read_at"`
	CreatedAt time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (Notification) TableName() string { return "notifications" }

func (n *Notification) BeforeCreate(*gorm.DB) error {
	ensureID(&n.ID)
	return nil
}
