package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orders/internal/catalog"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
	"github.com/angelmondragon/marketplace-orders/pkg/validate"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes the cart operations available to buyers.
type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*Cart, error)
	AddItem(ctx context.Context, userID uuid.UUID, input AddItemInput) (*Cart, error)
	UpdateQuantity(ctx context.Context, userID uuid.UUID, input UpdateQuantityInput) (*Cart, error)
	RemoveItem(ctx context.Context, userID uuid.UUID, ref uuid.UUID, kind enums.ListingKind) (*Cart, error)
	Clear(ctx context.Context, userID uuid.UUID) (*Cart, error)
	ApplyDiscount(ctx context.Context, userID uuid.UUID, code string, discount Discount) (*Cart, error)
	RemoveDiscount(ctx context.Context, userID uuid.UUID) (*Cart, error)
	Validate(ctx context.Context, userID uuid.UUID) (ValidationResult, error)
}

type AddItemInput struct {
	ListingID uuid.UUID         `json:"listingId" validate:"required"`
	Kind      enums.ListingKind `json:"kind" validate:"required,oneof=wholesale retailer"`
	Quantity  int               `json:"quantity" validate:"required,gt=0"`
}

type UpdateQuantityInput struct {
	ListingID uuid.UUID         `json:"listingId" validate:"required"`
	Kind      enums.ListingKind `json:"kind" validate:"required,oneof=wholesale retailer"`
	Quantity  int               `json:"quantity" validate:"gte=0"`
}

type service struct {
	store    *Store
	listings catalog.Repository
	tx       txRunner
	logg     *logger.Logger
}

// NewService builds a cart service backed by the provided stack.
func NewService(store *Store, listings catalog.Repository, tx txRunner, logg *logger.Logger) (Service, error) {
	if store == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if listings == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{store: store, listings: listings, tx: tx, logg: logg}, nil
}

// Get returns the user's cart, creating and persisting an empty one on first read.
func (s *service) Get(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	return s.mutate(ctx, userID, func(*gorm.DB, *Cart) error { return nil })
}

// AddItem checks the live listing for MOQ and stock before touching the cart.
func (s *service) AddItem(ctx context.Context, userID uuid.UUID, input AddItemInput) (*Cart, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, func(tx *gorm.DB, c *Cart) error {
		listing, err := s.listings.WithTx(tx).FindByID(ctx, input.Kind, input.ListingID)
		if err != nil {
			return err
		}
		if !listing.IsActive {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "listing is inactive")
		}
		qty := input.Quantity
		if idx := c.indexOf(listing.ID, listing.Kind); idx >= 0 {
			qty += c.Items[idx].Quantity
		}
		if err := checkQuantity(listing, qty); err != nil {
			return err
		}
		return c.AddItem(lineFor(listing, input.Quantity))
	})
}

func (s *service) UpdateQuantity(ctx context.Context, userID uuid.UUID, input UpdateQuantityInput) (*Cart, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, func(tx *gorm.DB, c *Cart) error {
		if input.Quantity > 0 {
			listing, err := s.listings.WithTx(tx).FindByID(ctx, input.Kind, input.ListingID)
			if err != nil {
				return err
			}
			if err := checkQuantity(listing, input.Quantity); err != nil {
				return err
			}
		}
		return c.UpdateQuantity(input.ListingID, input.Kind, input.Quantity)
	})
}

func (s *service) RemoveItem(ctx context.Context, userID uuid.UUID, ref uuid.UUID, kind enums.ListingKind) (*Cart, error) {
	return s.mutate(ctx, userID, func(_ *gorm.DB, c *Cart) error {
		return c.RemoveItem(ref, kind)
	})
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	return s.mutate(ctx, userID, func(_ *gorm.DB, c *Cart) error {
		c.Clear()
		return nil
	})
}

func (s *service) ApplyDiscount(ctx context.Context, userID uuid.UUID, code string, discount Discount) (*Cart, error) {
	return s.mutate(ctx, userID, func(_ *gorm.DB, c *Cart) error {
		if c.IsEmpty() {
			return pkgerrors.New(pkgerrors.CodeValidation, "cannot discount an empty cart")
		}
		return c.ApplyDiscount(code, discount)
	})
}

func (s *service) RemoveDiscount(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	return s.mutate(ctx, userID, func(_ *gorm.DB, c *Cart) error {
		c.RemoveDiscount()
		return nil
	})
}

// Validate reports every line that can no longer be bought as-is. The cart is untouched.
func (s *service) Validate(ctx context.Context, userID uuid.UUID) (ValidationResult, error) {
	var result ValidationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		c, err := s.store.Load(ctx, tx, userID)
		if err != nil {
			return err
		}
		result, err = ValidateLines(ctx, s.listings.WithTx(tx), c.Items)
		return err
	})
	if err != nil {
		return ValidationResult{}, err
	}
	return result, nil
}

// mutate loads the locked cart, applies fn and saves it with fresh totals.
func (s *service) mutate(ctx context.Context, userID uuid.UUID, fn func(tx *gorm.DB, c *Cart) error) (*Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	var out *Cart
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		c, err := s.store.Load(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := fn(tx, c); err != nil {
			return err
		}
		if err := s.store.Save(ctx, tx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			s.logg.Error(s.logg.WithUserID(ctx, userID.String()), "cart mutation failed", err)
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update cart")
		}
		return nil, err
	}
	return out, nil
}

func checkQuantity(listing *catalog.Listing, qty int) error {
	if qty < listing.MinimumOrderQuantity {
		return pkgerrors.NewBelowMinimum(pkgerrors.MinimumShortfall{
			ItemRef:   listing.ID,
			Requested: qty,
			Minimum:   listing.MinimumOrderQuantity,
		})
	}
	if qty > listing.Stock {
		return pkgerrors.NewInsufficientStock(pkgerrors.StockShortage{
			ItemRef:   listing.ID,
			Kind:      string(listing.Kind),
			Name:      listing.Name,
			Requested: qty,
			Available: listing.Stock,
		})
	}
	return nil
}

func lineFor(listing *catalog.Listing, qty int) Line {
	return Line{
		ItemRef:                listing.ID,
		Kind:                   listing.Kind,
		Name:                   listing.Name,
		Price:                  listing.Price,
		Quantity:               qty,
		SellerID:               listing.SellerID,
		SellerRole:             listing.SellerRole,
		AvailableStockSnapshot: listing.Stock,
		MinimumOrderQuantity:   listing.MinimumOrderQuantity,
	}
}

// PercentOff is a convenience for building a percentage discount.
func PercentOff(pct int64) Discount {
	d := decimal.NewFromInt(pct)
	return Discount{Percentage: &d}
}

// AmountOff is a convenience for building a fixed-amount discount.
func AmountOff(amount decimal.Decimal) Discount {
	return Discount{Amount: &amount}
}
