package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-orders/pkg/db"
	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
)

// Repository reads listings and owns every write to their stock counters.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, kind enums.ListingKind, id uuid.UUID) (*Listing, error)
	Resolve(ctx context.Context, id uuid.UUID) (*Listing, error)
	FindWholesale(ctx context.Context, id uuid.UUID) (*models.WholesaleListing, error)
	FindRetailer(ctx context.Context, id uuid.UUID) (*models.RetailerListing, error)
	DecrementStock(ctx context.Context, kind enums.ListingKind, id uuid.UUID, qty int) (StockEffect, error)
	IncrementStock(ctx context.Context, kind enums.ListingKind, id uuid.UUID, qty int, effect *StockEffect) error
	FindDerived(ctx context.Context, retailerID, originListingID uuid.UUID) (*models.RetailerListing, error)
	CreateRetailerListing(ctx context.Context, listing *models.RetailerListing) error
	AugmentRetailerListing(ctx context.Context, id uuid.UUID, qty int, purchasePrice decimal.Decimal) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds the gorm-backed catalog repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, kind enums.ListingKind, id uuid.UUID) (*Listing, error) {
	switch kind {
	case enums.ListingKindWholesale:
		row, err := r.FindWholesale(ctx, id)
		if err != nil {
			return nil, err
		}
		listing := fromWholesale(*row)
		return &listing, nil
	case enums.ListingKindRetailer:
		row, err := r.FindRetailer(ctx, id)
		if err != nil {
			return nil, err
		}
		listing := fromRetailer(*row)
		return &listing, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown listing kind %q", kind))
	}
}

// Resolve looks id up in the wholesale table first, then the retailer table.
func (r *repository) Resolve(ctx context.Context, id uuid.UUID) (*Listing, error) {
	listing, err := r.FindByID(ctx, enums.ListingKindWholesale, id)
	if err == nil {
		return listing, nil
	}
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}
	return r.FindByID(ctx, enums.ListingKindRetailer, id)
}

func (r *repository) FindWholesale(ctx context.Context, id uuid.UUID) (*models.WholesaleListing, error) {
	var row models.WholesaleListing
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, translateFind(err, "wholesale listing", id)
	}
	return &row, nil
}

func (r *repository) FindRetailer(ctx context.Context, id uuid.UUID) (*models.RetailerListing, error) {
	var row models.RetailerListing
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, translateFind(err, "retailer listing", id)
	}
	return &row, nil
}

// DecrementStock is a single conditional UPDATE; a concurrent buyer can never drive stock
// below zero. When no row matches, the listing is re-read to report why.
func (r *repository) DecrementStock(ctx context.Context, kind enums.ListingKind, id uuid.UUID, qty int) (StockEffect, error) {
	if qty <= 0 {
		return StockEffect{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	conn := r.db.WithContext(ctx)
	var res *gorm.DB
	switch kind {
	case enums.ListingKindWholesale:
		res = conn.Model(&models.WholesaleListing{}).
			Where("id = ? AND stock >= ? AND is_active = ?", id, qty, true).
			Updates(map[string]any{
				"stock":       gorm.Expr("stock - ?", qty),
				"order_count": gorm.Expr("order_count + 1"),
			})
	case enums.ListingKindRetailer:
		res = conn.Model(&models.RetailerListing{}).
			Where("id = ? AND stock >= ? AND is_active = ?", id, qty, true).
			Updates(map[string]any{
				"stock":         gorm.Expr("stock - ?", qty),
				"order_count":   gorm.Expr("order_count + 1"),
				"total_sales":   gorm.Expr("total_sales + ?", qty),
				"total_revenue": gorm.Expr("total_revenue + retail_price * ?", qty),
				"total_profit":  gorm.Expr("total_profit + profit_margin * ?", qty),
			})
	default:
		return StockEffect{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown listing kind %q", kind))
	}
	if res.Error != nil {
		return StockEffect{}, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement stock")
	}
	if res.RowsAffected == 0 {
		return StockEffect{}, r.classifyShortage(ctx, kind, id, qty)
	}
	if kind != enums.ListingKindRetailer {
		return StockEffect{}, nil
	}

	// The row is locked by the UPDATE above, so prices read here are the ones it used.
	row, err := r.FindRetailer(ctx, id)
	if err != nil {
		return StockEffect{}, err
	}
	q := decimal.NewFromInt(int64(qty))
	return StockEffect{
		Revenue: row.RetailPrice.Mul(q).Round(2),
		Profit:  row.ProfitMargin.Mul(q).Round(2),
	}, nil
}

func (r *repository) classifyShortage(ctx context.Context, kind enums.ListingKind, id uuid.UUID, qty int) error {
	listing, err := r.FindByID(ctx, kind, id)
	if err != nil {
		return err
	}
	if !listing.IsActive {
		return pkgerrors.New(pkgerrors.CodeInvalidState, fmt.Sprintf("listing %s is inactive", id))
	}
	return pkgerrors.NewInsufficientStock(pkgerrors.StockShortage{
		ItemRef:   id,
		Kind:      string(kind),
		Name:      listing.Name,
		Requested: qty,
		Available: listing.Stock,
	})
}

// IncrementStock reverses a prior decrement. Retailer accumulators drop by the exact
// effect recorded at sale time, never by a value derived from current prices.
func (r *repository) IncrementStock(ctx context.Context, kind enums.ListingKind, id uuid.UUID, qty int, effect *StockEffect) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	updates := map[string]any{
		"stock":       gorm.Expr("stock + ?", qty),
		"order_count": gorm.Expr("CASE WHEN order_count > 0 THEN order_count - 1 ELSE 0 END"),
	}
	var model any
	switch kind {
	case enums.ListingKindWholesale:
		model = &models.WholesaleListing{}
	case enums.ListingKindRetailer:
		model = &models.RetailerListing{}
		updates["total_sales"] = gorm.Expr("CASE WHEN total_sales >= ? THEN total_sales - ? ELSE 0 END", qty, qty)
		if effect != nil {
			updates["total_revenue"] = gorm.Expr("total_revenue - ?", effect.Revenue)
			updates["total_profit"] = gorm.Expr("total_profit - ?", effect.Profit)
		}
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown listing kind %q", kind))
	}

	res := r.db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "increment stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("%s listing %s not found", kind, id))
	}
	return nil
}

// FindDerived returns the retailer's listing created from originListingID, or nil. The
// row stays locked until the surrounding transaction ends, so the stock and purchase
// price read here are still current when the weighted average is written back.
func (r *repository) FindDerived(ctx context.Context, retailerID, originListingID uuid.UUID) (*models.RetailerListing, error) {
	var row models.RetailerListing
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("seller_id = ? AND origin_listing_id = ?", retailerID, originListingID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find derived listing")
	}
	return &row, nil
}

func (r *repository) CreateRetailerListing(ctx context.Context, listing *models.RetailerListing) error {
	if listing == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "listing required")
	}
	err := r.db.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		return sp.Create(listing).Error
	})
	if isDerivedDuplicate(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "retailer already holds a listing for this origin")
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create retailer listing")
	}
	return nil
}

func isDerivedDuplicate(err error) bool {
	return db.IsUniqueViolation(err, "ux_retailer_listings_seller_origin") ||
		db.IsUniqueViolation(err, "retailer_listings.origin_listing_id")
}

// AugmentRetailerListing adds qty units bought at purchasePrice (already the new weighted
// average) and recomputes the margin against the current retail price.
func (r *repository) AugmentRetailerListing(ctx context.Context, id uuid.UUID, qty int, purchasePrice decimal.Decimal) error {
	res := r.db.WithContext(ctx).Model(&models.RetailerListing{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"stock":          gorm.Expr("stock + ?", qty),
			"purchase_price": purchasePrice,
			"profit_margin":  gorm.Expr("retail_price - ?", purchasePrice),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "augment retailer listing")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("retailer listing %s not found", id))
	}
	return nil
}

func translateFind(err error, what string, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("%s %s not found", what, id))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+what)
}
