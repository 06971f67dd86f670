package main

import (
	"context"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orders/pkg/config"
	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
	"github.com/angelmondragon/marketplace-orders/pkg/metrics"
	"github.com/angelmondragon/marketplace-orders/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          *metrics.Outbox
	Now              func() time.Time
}

// Service drains outbox_events into Pub/Sub. A row is marked published only
// after the broker acknowledged it, so delivery is at-least-once.
type Service struct {
	logg        *logger.Logger
	db          dbClient
	repo        outboxRepository
	pubsub      pubSubClient
	registry    registryResolver
	dlq         dlqRepository
	metrics     *metrics.Outbox
	publishers  publisherFactory
	now         func() time.Time
	batchSize   int
	maxAttempts int
	idle        time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	for _, dep := range []struct {
		missing bool
		name    string
	}{
		{params.Config == nil, "config"},
		{params.Logger == nil, "logger"},
		{params.DB == nil, "database client"},
		{params.PubSub == nil, "pubsub client"},
		{params.Repository == nil, "outbox repository"},
		{params.Registry == nil, "event registry"},
		{params.DLQRepository == nil, "dlq repository"},
	} {
		if dep.missing {
			return nil, fmt.Errorf("%s is required", dep.name)
		}
	}

	publishers := params.PublisherFactory
	if publishers == nil {
		publishers = func(topic string) publisher { return newGCPPublisher(params.PubSub.Publisher(topic)) }
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	cfg := params.Config.Outbox
	idle := time.Duration(cfg.PollIntervalMS) * time.Millisecond
	if idle <= 0 {
		idle = defaultPollInterval
	}

	return &Service{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		pubsub:      params.PubSub,
		registry:    params.Registry,
		dlq:         params.DLQRepository,
		metrics:     params.Metrics,
		publishers:  publishers,
		now:         now,
		batchSize:   positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts: positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		idle:        idle,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	checks := []struct {
		name string
		ping func(context.Context) error
	}{{"database", s.db.Ping}, {"pubsub", s.pubsub.Ping}}
	for _, c := range checks {
		if err := c.ping(ctx); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "dependency", c.name), "dependency ping failed", err)
			return fmt.Errorf("%s ping failed: %w", c.name, err)
		}
	}
	return nil
}

// Run polls until ctx is cancelled. Full batches are followed immediately by
// the next poll, an empty outbox waits one idle interval, and batch errors back
// off exponentially.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	delay := newRetryDelay(s.idle)
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher stopping")
			return err
		}

		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait = delay.fail()
		case processed:
			delay.reset()
			continue
		default:
			delay.reset()
			wait = delay.idle()
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// processBatch locks up to batchSize rows and publishes them. Messages are sent
// first and awaited afterwards so the client can batch them; a failing row never
// blocks the rest.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil || len(events) == 0 {
			return err
		}
		processed = true

		publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		defer cancel()
		inflight := make([]delivery, 0, len(events))
		for _, event := range events {
			inflight = append(inflight, s.send(publishCtx, event))
		}
		for _, d := range inflight {
			if err := s.settle(ctx, tx, d, d.await(publishCtx)); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
