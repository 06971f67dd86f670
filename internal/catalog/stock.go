package catalog

import (
	"context"
	"errors"

	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
)

// Stock exposes the two stock primitives used by checkout and cancellation.
type Stock struct {
	repo Repository
}

func NewStock(repo Repository) (*Stock, error) {
	if repo == nil {
		return nil, errors.New("catalog repository required")
	}
	return &Stock{repo: repo}, nil
}

// DecreaseStock atomically takes qty units from ref, failing with INSUFFICIENT_STOCK
// (available attached) rather than going negative.
func (s *Stock) DecreaseStock(ctx context.Context, tx *gorm.DB, ref Ref, qty int) (StockEffect, error) {
	effect, err := s.repo.WithTx(tx).DecrementStock(ctx, ref.Kind, ref.ID, qty)
	if err != nil {
		return StockEffect{}, coded(err, "decrease stock")
	}
	return effect, nil
}

// IncreaseStock gives qty units back to ref and undoes effect on retailer accumulators.
func (s *Stock) IncreaseStock(ctx context.Context, tx *gorm.DB, ref Ref, qty int, effect *StockEffect) error {
	if err := s.repo.WithTx(tx).IncrementStock(ctx, ref.Kind, ref.ID, qty, effect); err != nil {
		return coded(err, "increase stock")
	}
	return nil
}

func coded(err error, op string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, op)
}
