package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
	"github.com/angelmondragon/marketplace-orders/pkg/outbox"
	"github.com/angelmondragon/marketplace-orders/pkg/outbox/idempotency"
	"github.com/angelmondragon/marketplace-orders/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-orders/pkg/outbox/registry"
)

const consumerName = "notifications-worker"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type creator interface {
	Create(ctx context.Context, notification *models.Notification) error
}

// Consumer turns notification_requested messages into notification rows.
type Consumer struct {
	repo         creator
	subscription receiver
	idempotency  *idempotency.Manager
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

// NewConsumer builds the notification consumer.
func NewConsumer(repo creator, subscription receiver, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		idempotency:  manager,
		decoders:     newDecoders(),
		logg:         logg,
	}, nil
}

func newDecoders() *registry.DecoderRegistry {
	decoders := registry.NewDecoderRegistry()
	registry.RegisterJSON[payloads.NotificationRequestedEvent](decoders, enums.EventNotificationRequested, 1)
	return decoders
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != string(enums.EventNotificationRequested) {
		c.logg.Info(logCtx, "skipping unrelated event")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}
	decoded, err := c.decoders.Decode(enums.EventNotificationRequested, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{ack: true}
	}
	payload := decoded.(payloads.NotificationRequestedEvent)
	if payload.UserID == uuid.Nil || !payload.Type.IsValid() {
		c.logg.Error(logCtx, "malformed notification payload", fmt.Errorf("user %s type %q", payload.UserID, payload.Type))
		return processResult{ack: true}
	}

	claim, err := c.idempotency.Claim(ctx, consumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if claim.Duplicate {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	logCtx = c.logg.WithUserID(logCtx, payload.UserID.String())
	if err := c.repo.Create(ctx, toModel(eventID, payload)); err != nil {
		if !pkgerrors.IsRetryable(err) {
			c.logg.Error(logCtx, "notification rejected, dropping event", err)
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "notification persist failed", err)
		if relErr := claim.Release(ctx); relErr != nil {
			c.logg.Error(logCtx, "idempotency release failed", relErr)
		}
		return processResult{nack: true}
	}
	c.logg.Info(logCtx, "notification stored")
	return processResult{ack: true}
}

func toModel(eventID uuid.UUID, payload payloads.NotificationRequestedEvent) *models.Notification {
	priority := payload.Priority
	if !priority.IsValid() {
		priority = enums.NotificationPriorityNormal
	}
	n := &models.Notification{
		EventID:  &eventID,
		UserID:   payload.UserID,
		Type:     payload.Type,
		Priority: priority,
		Title:    payload.Title,
		Message:  payload.Message,
	}
	if payload.Link != "" {
		link := payload.Link
		n.Link = &link
	}
	return n
}
