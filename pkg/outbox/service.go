package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
)

// DomainEvent is what producers hand to Emit. Version and OccurredAt default to
// the current envelope version and the emit time.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

type inserter interface {
	Insert(tx *gorm.DB, event models.OutboxEvent) error
}

// Service queues events in outbox_events on the caller's transaction, so an
// event exists if and only if the business write that caused it committed.
type Service struct {
	repo inserter
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit returns the envelope's event id.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) (string, error) {
	switch {
	case tx == nil:
		return "", errors.New("transaction required")
	case !event.EventType.IsValid():
		return "", fmt.Errorf("unknown outbox event type %q", event.EventType)
	case event.AggregateType != "" && !event.AggregateType.IsValid():
		return "", fmt.Errorf("unknown aggregate type %q", event.AggregateType)
	}

	env, raw, err := seal(event, s.now())
	if err != nil {
		return "", err
	}
	if err := s.repo.Insert(tx, models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       raw,
	}); err != nil {
		return "", fmt.Errorf("queue %s: %w", event.EventType, err)
	}

	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":       env.EventID,
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID.String(),
		}), "outbox event queued")
	}
	return env.EventID, nil
}
