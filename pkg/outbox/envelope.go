package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const currentEnvelopeVersion = 1

// ActorRef names the user whose action produced the event.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope is what outbox_events.payload holds and what subscribers
// receive as the message body. Data is decoded by (event type, Version).
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// seal wraps event.Data in an envelope with a time-ordered id.
func seal(event DomainEvent, now time.Time) (PayloadEnvelope, []byte, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return PayloadEnvelope{}, nil, fmt.Errorf("marshal %s data: %w", event.EventType, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return PayloadEnvelope{}, nil, fmt.Errorf("event id: %w", err)
	}
	env := PayloadEnvelope{
		Version:    currentEnvelopeVersion,
		EventID:    id.String(),
		OccurredAt: now.UTC(),
		Actor:      event.Actor,
		Data:       data,
	}
	if event.Version > 0 {
		env.Version = event.Version
	}
	if !event.OccurredAt.IsZero() {
		env.OccurredAt = event.OccurredAt.UTC()
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return PayloadEnvelope{}, nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return env, raw, nil
}
