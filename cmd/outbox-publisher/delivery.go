package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	"github.com/angelmondragon/marketplace-orders/pkg/outbox/registry"
)

var errNilResult = errors.New("publish result is nil")

// delivery is one outbox row on its way to the broker.
type delivery struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	result   publishResult
	err      error
}

func (d delivery) await(ctx context.Context) error {
	if d.err != nil {
		return d.err
	}
	_, err := d.result.Get(ctx)
	return err
}

// send resolves the row and hands it to the topic publisher without waiting.
func (s *Service) send(ctx context.Context, event models.OutboxEvent) delivery {
	d := delivery{event: event}
	d.resolved, d.err = s.registry.Resolve(event)
	if d.err != nil {
		return d
	}
	topic := d.resolved.Route.Topic
	pub := s.publishers(topic)
	if pub == nil {
		d.err = registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
		return d
	}
	if d.result = pub.Publish(ctx, message(event, d.resolved)); d.result == nil {
		d.err = registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s: %w", topic, errNilResult))
	}
	return d
}

// message forwards the stored envelope as-is. Consumers route on attributes
// without decoding the body.
func message(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}
}

// settle records the outcome of one delivery inside the batch transaction.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, d delivery, publishErr error) error {
	event := d.event
	fields := s.fields(d)
	eventType := string(event.EventType)

	if publishErr == nil {
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.IncPublished(eventType)
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
		return nil
	}

	var permanent registry.NonRetryableError
	if errors.As(publishErr, &permanent) {
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, publishErr, fields)
	}

	attempt := event.AttemptCount + 1
	fields["attempt_count"] = attempt
	if attempt >= s.maxAttempts {
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", publishErr), fields)
	}

	fields["error"] = publishErr.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox publish failed, will retry")
	s.metrics.IncFailed(eventType)
	if err := s.repo.MarkFailedTx(tx, event.ID, publishErr); err != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return nil
}

// deadLetter copies the row into the DLQ and marks it terminal in the same transaction.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["error_reason"] = reason
	fields["error"] = cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event dead-lettered")

	msg := cause.Error()
	if err := s.dlq.InsertTx(tx, models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      s.now().UTC(),
	}); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	s.metrics.IncDeadLettered(string(event.EventType), string(reason))
	return nil
}

func (s *Service) fields(d delivery) map[string]any {
	event := d.event
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if d.resolved != nil {
		fields["event_id"] = d.resolved.Envelope.EventID
		fields["topic"] = d.resolved.Route.Topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}
