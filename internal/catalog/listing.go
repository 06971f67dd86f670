package catalog

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
)

// Listing is the kind-agnostic view of a catalog entry used by carts and checkout.
// Price is the wholesale price or the retail price depending on Kind.
type Listing struct {
	Kind                 enums.ListingKind
	ID                   uuid.UUID
	SellerID             uuid.UUID
	SellerRole           enums.SellerRole
	Name                 string
	Stock                int
	MinimumOrderQuantity int
	Price                decimal.Decimal
	IsActive             bool
}

// Ref addresses one listing row.
type Ref struct {
	ID   uuid.UUID
	Kind enums.ListingKind
}

// StockEffect is what a retailer-listing decrement added to the sale accumulators.
// It is snapshotted on the order line so a later cancellation subtracts exactly this.
type StockEffect struct {
	Revenue decimal.Decimal
	Profit  decimal.Decimal
}

func fromWholesale(m models.WholesaleListing) Listing {
	return Listing{
		Kind:                 enums.ListingKindWholesale,
		ID:                   m.ID,
		SellerID:             m.SellerID,
		SellerRole:           enums.SellerRoleWholesaler,
		Name:                 m.Name,
		Stock:                m.Stock,
		MinimumOrderQuantity: m.MinimumOrderQuantity,
		Price:                m.Price,
		IsActive:             m.IsActive,
	}
}

func fromRetailer(m models.RetailerListing) Listing {
	return Listing{
		Kind:                 enums.ListingKindRetailer,
		ID:                   m.ID,
		SellerID:             m.SellerID,
		SellerRole:           enums.SellerRoleRetailer,
		Name:                 m.Name,
		Stock:                m.Stock,
		MinimumOrderQuantity: m.MinimumOrderQuantity,
		Price:                m.RetailPrice,
		IsActive:             m.IsActive,
	}
}
