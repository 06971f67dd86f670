package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orders/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
	"github.com/angelmondragon/marketplace-orders/pkg/outbox"
	"github.com/angelmondragon/marketplace-orders/pkg/outbox/payloads"
)

type failingOutbox struct{}

func (failingOutbox) Emit(context.Context, *gorm.DB, outbox.DomainEvent) (string, error) {
	return "", errors.New("outbox unavailable")
}

func TestNotifyQueuesOutboxEvent(t *testing.T) {
	db := dbtest.Open(t)
	emitter, err := NewEmitter(outbox.NewService(outbox.NewRepository(db), logger.Nop()), nil)
	if err != nil {
		t.Fatalf("new emitter: %v", err)
	}
	user := uuid.New()
	orderID := uuid.New()

	err = db.Transaction(func(tx *gorm.DB) error {
		emitter.Notify(context.Background(), tx, user, Notification{
			Type:        enums.NotificationTypeOrderPlaced,
			Title:       "Order placed",
			Message:     "ORD-20260101-00001 placed",
			OrderID:     &orderID,
			OrderNumber: "ORD-20260101-00001",
		})
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	var rows []models.OutboxEvent
	if err := db.Find(&rows).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one outbox row, got %d", len(rows))
	}
	if rows[0].AggregateID != orderID || rows[0].EventType != enums.EventNotificationRequested {
		t.Fatalf("unexpected row %+v", rows[0])
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(rows[0].Payload, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	var payload payloads.NotificationRequestedEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.UserID != user || payload.Priority != enums.NotificationPriorityNormal {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestNotifyFailureDoesNotAbortTransaction(t *testing.T) {
	db := dbtest.Open(t)
	emitter, err := NewEmitter(failingOutbox{}, nil)
	if err != nil {
		t.Fatalf("new emitter: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.Notification{UserID: uuid.New(), Type: enums.NotificationTypeOrderPaid, Title: "t", Message: "m"}).Error; err != nil {
			return err
		}
		emitter.Notify(context.Background(), tx, uuid.New(), Notification{Type: enums.NotificationTypeOrderPaid})
		emitter.Notify(context.Background(), tx, uuid.New(), Notification{Type: "bogus"})
		return nil
	})
	if err != nil {
		t.Fatalf("expected caller transaction to commit, got %v", err)
	}

	var count int64
	db.Model(&models.Notification{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected the caller's write to survive, got %d rows", count)
	}
}
