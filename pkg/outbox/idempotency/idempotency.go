package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Store is the slice of the redis client the manager needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Manager deduplicates at-least-once deliveries per consumer. A claim is a redis key
// mkt:idempotency:evt:processed:<consumer>:<event_id> that lives for ttl.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// Claim is the outcome of one delivery. Duplicate claims own nothing.
type Claim struct {
	Duplicate bool

	key   string
	store Store
}

func NewManager(store Store, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}, nil
}

// Claim marks eventID as being handled by consumer. The claim value is the claim time
// so an operator can tell when a stuck key was written.
func (m *Manager) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (*Claim, error) {
	if consumer == "" {
		return nil, errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return nil, errors.New("event id is required")
	}
	key := m.store.IdempotencyKey("evt:processed:"+consumer, eventID.String())
	won, err := m.store.SetNX(ctx, key, m.now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return nil, err
	}
	if !won {
		return &Claim{Duplicate: true}, nil
	}
	return &Claim{key: key, store: m.store}, nil
}

// Release gives the event back so a redelivery is processed again. Call it when
// handling failed after a successful claim.
func (c *Claim) Release(ctx context.Context) error {
	if c == nil || c.Duplicate || c.key == "" {
		return nil
	}
	key := c.key
	c.key = ""
	return c.store.Del(ctx, key)
}
