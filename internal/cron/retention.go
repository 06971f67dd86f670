package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orders/pkg/logger"
)

const (
	outboxRetentionDays       = 30
	notificationRetentionDays = 90
)

// sweep deletes rows of one table older than cutoff and reports how many went.
type sweep struct {
	name  string
	prune func(ctx context.Context, cutoff time.Time) (int64, error)
}

// retentionJob runs its sweeps against a shared cutoff. A failing sweep does not
// stop the others; all failures come back joined.
type retentionJob struct {
	name      string
	logg      *logger.Logger
	retention int
	sweeps    []sweep
	now       func() time.Time
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.retention)
	fields := map[string]any{"cutoff": cutoff, "retention_days": j.retention}
	var errs error
	for _, s := range j.sweeps {
		rows, err := s.prune(ctx, cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		fields[s.name+"_deleted"] = rows
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "retention sweep complete")
	return errs
}

func retentionDays(configured, fallback int) int {
	if configured <= 0 {
		return fallback
	}
	return configured
}

type OutboxRetentionJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Outbox    publishedOutboxPruner
	DLQ       dlqPruner
	Retention int
}

type publishedOutboxPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type dlqPruner interface {
	DeleteFailedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

// NewOutboxRetentionJob prunes published outbox rows and, when a DLQ repository
// is given, old dead letters. Unpublished rows are never touched. Each table is
// pruned in its own transaction.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Outbox == nil:
		return nil, errors.New("outbox repository required")
	}
	inTx := func(prune func(*gorm.DB, time.Time) (int64, error)) func(context.Context, time.Time) (int64, error) {
		return func(ctx context.Context, cutoff time.Time) (int64, error) {
			var rows int64
			err := params.DB.WithTx(ctx, func(tx *gorm.DB) error {
				var err error
				rows, err = prune(tx, cutoff)
				return err
			})
			return rows, err
		}
	}

	sweeps := []sweep{{name: "published", prune: inTx(params.Outbox.DeletePublishedBefore)}}
	if params.DLQ != nil {
		sweeps = append(sweeps, sweep{name: "dead_letter", prune: inTx(params.DLQ.DeleteFailedBefore)})
	}
	return &retentionJob{
		name:      "outbox-retention",
		logg:      params.Logger,
		retention: retentionDays(params.Retention, outboxRetentionDays),
		sweeps:    sweeps,
		now:       time.Now,
	}, nil
}

type NotificationCleanupJobParams struct {
	Logger     *logger.Logger
	Repository notificationPruner
	Retention  int
}

type notificationPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Repository == nil {
		return nil, errors.New("notifications repository required")
	}
	return &retentionJob{
		name:      "notification-cleanup",
		logg:      params.Logger,
		retention: retentionDays(params.Retention, notificationRetentionDays),
		sweeps:    []sweep{{name: "notifications", prune: params.Repository.DeleteOlderThan}},
		now:       time.Now,
	}, nil
}
