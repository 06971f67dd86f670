package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
)

const (
	defaultPendingTTL = 72 * time.Hour
	expiryBatchSize   = 200
)

type PendingOrderExpiryJobParams struct {
	Logger    *logger.Logger
	Pending   pendingOrderFinder
	Expirer   orderExpirer
	TTL       time.Duration
	BatchSize int
}

type pendingOrderFinder interface {
	FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

type orderExpirer interface {
	ExpirePending(ctx context.Context, id uuid.UUID, reason string) (*models.Order, error)
}

// NewPendingOrderExpiryJob cancels unpaid pending orders older than the TTL. The order
// service re-checks status and payment under the row lock, so an order paid or confirmed
// after the query is left alone. Stock returns to the listings.
func NewPendingOrderExpiryJob(params PendingOrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Pending == nil {
		return nil, fmt.Errorf("pending order finder required")
	}
	if params.Expirer == nil {
		return nil, fmt.Errorf("order expirer required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = expiryBatchSize
	}
	return &pendingOrderExpiryJob{
		logg:    params.Logger,
		pending: params.Pending,
		expirer: params.Expirer,
		ttl:     ttl,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type pendingOrderExpiryJob struct {
	logg    *logger.Logger
	pending pendingOrderFinder
	expirer orderExpirer
	ttl     time.Duration
	batch   int
	now     func() time.Time
}

func (j *pendingOrderExpiryJob) Name() string { return "pending-order-expiry" }

func (j *pendingOrderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	ids, err := j.pending.FindPendingBefore(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query expired pending orders: %w", err)
	}

	reason := fmt.Sprintf("Payment not received within %s", j.ttl)
	var errs error
	expired, skipped := 0, 0
	for _, id := range ids {
		_, err := j.expirer.ExpirePending(ctx, id, reason)
		switch {
		case err == nil:
			expired++
		case pkgerrors.HasCode(err, pkgerrors.CodeInvalidState), pkgerrors.HasCode(err, pkgerrors.CodeNotFound):
			// paid, moved on or vanished since the query
			skipped++
		default:
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", id, err))
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"found":   len(ids),
		"expired": expired,
		"skipped": skipped,
	})
	j.logg.Info(logCtx, "pending order expiry complete")
	return errs
}
