package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/marketplace-orders/pkg/logger"
)

type dependency interface {
	Ping(context.Context) error
}

type runner interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger               *logger.Logger
	DB                   dependency
	Redis                dependency
	PubSub               dependency
	NotificationConsumer runner
	Ops                  func(ctx context.Context) error
}

// Service runs the notification consumer next to the ops listener.
type Service struct {
	logg                 *logger.Logger
	db                   dependency
	redis                dependency
	pubsub               dependency
	notificationConsumer runner
	ops                  func(ctx context.Context) error
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.NotificationConsumer == nil {
		return nil, errors.New("notification consumer is required")
	}
	ops := params.Ops
	if ops == nil {
		ops = func(context.Context) error { return nil }
	}

	return &Service{
		logg:                 params.Logger,
		db:                   params.DB,
		redis:                params.Redis,
		pubsub:               params.PubSub,
		notificationConsumer: params.NotificationConsumer,
		ops:                  ops,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until ctx is cancelled or either goroutine fails.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := s.notificationConsumer.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(groupCtx, "notification consumer stopped unexpectedly", err)
			return err
		}
		return nil
	})
	group.Go(func() error {
		return s.ops(groupCtx)
	})

	if err := group.Wait(); err != nil {
		return err
	}
	s.logg.Info(ctx, "worker context canceled")
	return ctx.Err()
}
