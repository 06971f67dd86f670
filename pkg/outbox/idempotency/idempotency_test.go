package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	values  map[string]any
	ttls    map[string]time.Duration
	setErr  error
	deleted []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]any{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.setErr != nil {
		return false, m.setErr
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
		m.deleted = append(m.deleted, k)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "mkt:idempotency:" + scope + ":" + id
}

func TestClaimFirstDeliveryThenDuplicate(t *testing.T) {
	store := newMemoryStore()
	manager, err := NewManager(store, 24*time.Hour)
	require.NoError(t, err)
	manager.now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	eventID := uuid.New()
	ctx := context.Background()

	first, err := manager.Claim(ctx, "notifications-worker", eventID)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	key := "mkt:idempotency:evt:processed:notifications-worker:" + eventID.String()
	assert.Equal(t, "2026-03-14T09:00:00Z", store.values[key])
	assert.Equal(t, 24*time.Hour, store.ttls[key])

	second, err := manager.Claim(ctx, "notifications-worker", eventID)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	other, err := manager.Claim(ctx, "another-consumer", eventID)
	require.NoError(t, err)
	assert.False(t, other.Duplicate, "claims are scoped per consumer")
}

func TestReleaseAllowsRedelivery(t *testing.T) {
	store := newMemoryStore()
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()
	eventID := uuid.New()

	claim, err := manager.Claim(ctx, "notifications-worker", eventID)
	require.NoError(t, err)
	require.NoError(t, claim.Release(ctx))
	require.NoError(t, claim.Release(ctx))
	assert.Len(t, store.deleted, 1, "release is idempotent")

	again, err := manager.Claim(ctx, "notifications-worker", eventID)
	require.NoError(t, err)
	assert.False(t, again.Duplicate)
}

func TestDuplicateReleaseKeepsOriginalClaim(t *testing.T) {
	store := newMemoryStore()
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()
	eventID := uuid.New()

	_, err = manager.Claim(ctx, "notifications-worker", eventID)
	require.NoError(t, err)
	dup, err := manager.Claim(ctx, "notifications-worker", eventID)
	require.NoError(t, err)
	require.NoError(t, dup.Release(ctx))
	assert.Empty(t, store.deleted)
}

func TestClaimErrors(t *testing.T) {
	store := newMemoryStore()
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = manager.Claim(ctx, "", uuid.New())
	assert.Error(t, err)
	_, err = manager.Claim(ctx, "notifications-worker", uuid.Nil)
	assert.Error(t, err)

	store.setErr = errors.New("redis down")
	_, err = manager.Claim(ctx, "notifications-worker", uuid.New())
	assert.Error(t, err)

	_, err = NewManager(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewManager(store, -time.Second)
	assert.Error(t, err)
}
