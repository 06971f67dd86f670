package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/marketplace-orders/pkg/config"
	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	"github.com/angelmondragon/marketplace-orders/pkg/outbox"
	"github.com/angelmondragon/marketplace-orders/pkg/outbox/payloads"
	"github.com/google/uuid"
)

// Route says where an event type is published and which aggregate may emit it.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is an outbox row whose envelope and payload decoded cleanly.
type ResolvedEvent struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  any
}

// NonRetryableError marks a row that will never publish no matter how often it is retried.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func permanentf(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

// EventRegistry is the publisher-side table of routes. Payload decoding shares
// the DecoderRegistry used by consumers so both ends agree on schemas.
type EventRegistry struct {
	routes   map[enums.OutboxEventType]Route
	decoders *DecoderRegistry
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.NotificationTopic == "" {
		return nil, errors.New("notification topic is required")
	}
	reg := &EventRegistry{
		routes:   make(map[enums.OutboxEventType]Route),
		decoders: NewDecoderRegistry(),
	}
	reg.routes[enums.EventNotificationRequested] = Route{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateOrder,
		Topic:         cfg.NotificationTopic,
	}
	RegisterJSON[payloads.NotificationRequestedEvent](reg.decoders, enums.EventNotificationRequested, 1)
	return reg, nil
}

// Resolve checks the row against its route and decodes the payload. Every
// failure here is a NonRetryableError.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	route, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, permanentf("unsupported event type %s", event.EventType)
	case route.AggregateType != event.AggregateType:
		return nil, permanentf("aggregate mismatch: expected %s got %s", route.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, permanentf("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, permanentf("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, permanentf("payload missing for %s", event.EventType)
	}
	payload, err := r.decoders.Decode(event.EventType, envelope.Version, envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return &ResolvedEvent{Route: route, Envelope: envelope, Payload: payload}, nil
}
