package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orders/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
)

func emitOne(t *testing.T, db *gorm.DB, svc *Service) string {
	t.Helper()
	var eventID string
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		eventID, err = svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Actor:         &ActorRef{UserID: uuid.New(), Role: "retailer"},
			Data:          map[string]string{"title": "Order placed"},
		})
		return err
	}))
	return eventID
}

func TestEmitWritesEnvelope(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), logger.Nop())

	eventID := emitOne(t, db, svc)

	var rows []models.OutboxEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].PublishedAt)
	assert.Zero(t, rows[0].AttemptCount)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, eventID, envelope.EventID)
	assert.Equal(t, 1, envelope.Version)
	assert.False(t, envelope.OccurredAt.IsZero())
	assert.JSONEq(t, `{"title":"Order placed"}`, string(envelope.Data))
}

func TestEmitRejectsUnknownTypeAndMissingTx(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)

	_, err := svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventNotificationRequested})
	assert.Error(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Emit(context.Background(), tx, DomainEvent{EventType: "order_teleported"})
		return err
	})
	assert.Error(t, err)
}

func TestEmitRollsBackWithCaller(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)

	boom := errors.New("checkout failed")
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)
	emitOne(t, db, svc)
	emitOne(t, db, svc)

	rows, err := repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, repo.MarkPublishedTx(db, rows[0].ID))
	require.NoError(t, repo.MarkFailedTx(db, rows[1].ID, errors.New(strings.Repeat("x", 2000))))

	var failed models.OutboxEvent
	require.NoError(t, db.Take(&failed, "id = ?", rows[1].ID).Error)
	assert.Equal(t, 1, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	assert.Len(t, *failed.LastError, maxLastErrorLen)

	rows, err = repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 1, "published rows are not fetched again")

	require.NoError(t, repo.MarkTerminalTx(db, rows[0].ID, errors.New("bad payload"), 3))
	rows, err = repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, rows, "terminal rows are parked")
}

func TestDeletePublishedBefore(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)
	emitOne(t, db, svc)
	emitOne(t, db, svc)

	var rows []models.OutboxEvent
	require.NoError(t, db.Order("created_at ASC").Find(&rows).Error)
	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("id = ?", rows[0].ID).Update("published_at", old).Error)

	deleted, err := repo.DeletePublishedBefore(nil, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	var remaining int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	assert.EqualValues(t, 1, remaining, "unpublished rows are kept")
}

func TestDLQRepository(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewDLQRepository(db)
	eventID := uuid.New()
	msg := strings.Repeat("e", 1500)

	require.NoError(t, repo.InsertTx(db, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &msg,
		AttemptCount:  5,
		FailedAt:      time.Now().UTC().Add(-10 * 24 * time.Hour),
	}))

	found, err := repo.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Len(t, *found.ErrorMessage, maxLastErrorLen)

	missing, err := repo.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	listed, err := repo.List(context.Background(), DLQFilter{})
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	byReason, err := repo.List(context.Background(), DLQFilter{Reason: enums.OutboxDLQReasonNonRetryable})
	require.NoError(t, err)
	assert.Empty(t, byReason)

	deleted, err := repo.DeleteFailedBefore(nil, time.Now().UTC().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}

func TestEmitHonoursExplicitVersionAndTime(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.FixedZone("CST", -6*3600))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Version:       2,
			OccurredAt:    at,
			Data:          map[string]int{"qty": 3},
		})
		return err
	}))

	var row models.OutboxEvent
	require.NoError(t, db.Take(&row).Error)
	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	assert.Equal(t, 2, envelope.Version)
	assert.True(t, envelope.OccurredAt.Equal(at))
	assert.Equal(t, time.UTC, envelope.OccurredAt.Location())

	id, err := uuid.Parse(envelope.EventID)
	require.NoError(t, err)
	assert.EqualValues(t, 7, id.Version(), "event ids are time ordered")
}

func TestEmitRejectsUnknownAggregate(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Emit(context.Background(), tx, DomainEvent{EventType: enums.EventNotificationRequested, AggregateType: "warehouse"})
		return err
	})
	assert.Error(t, err)
}
