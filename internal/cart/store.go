package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
)

// Store loads and saves Cart aggregates inside a caller's transaction. Checkout uses it
// to read the cart and clear it in the same transaction that creates the orders.
type Store struct {
	repo    Repository
	pricing Pricing
}

func NewStore(repo Repository, pricing Pricing) (*Store, error) {
	if repo == nil {
		return nil, errors.New("cart repository required")
	}
	return &Store{repo: repo, pricing: pricing}, nil
}

func (s *Store) Pricing() Pricing { return s.pricing }

// Load returns the user's cart locked for update. A user without one gets an empty cart
// row first, so concurrent first reads converge on the same row.
func (s *Store) Load(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*Cart, error) {
	repo := s.repo.WithTx(tx)
	record, err := repo.FindByUser(ctx, userID, true)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := repo.CreateIfMissing(ctx, toRecord(New(userID, s.pricing))); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
		}
		record, err = repo.FindByUser(ctx, userID, true)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return fromRecord(record, s.pricing), nil
}

// Save persists c with the totals its last mutation computed.
func (s *Store) Save(ctx context.Context, tx *gorm.DB, c *Cart) error {
	c.recalculate()
	record := toRecord(c)
	if err := s.repo.WithTx(tx).Save(ctx, record); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart")
	}
	c.ID = record.ID
	c.UpdatedAt = record.UpdatedAt
	return nil
}
