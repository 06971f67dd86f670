package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WholesaleListing is a wholesaler-owned catalog entry sold to retailers.
type WholesaleListing struct {
	ID                   uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	SellerID             uuid.UUID        `gorm:"column:seller_id;type:uuid;not null"`
	Name                 string           `gorm:"column:name;type:text;not null"`
	Description          *string          `gorm:"column:description;type:text"`
	Category             string           `gorm:"column:category;type:text;not null;default:''"`
	Unit                 string           `gorm:"column:unit;type:text;not null;default:'unit'"`
	Price                decimal.Decimal  `gorm:"column:price;type:numeric(12,2);not null"`
	SuggestedRetailPrice *decimal.Decimal `gorm:"column:suggested_retail_price;type:numeric(12,2)"`
	Stock                int              `gorm:"column:stock;not null;default:0"`
	MinimumOrderQuantity int              `gorm:"column:minimum_order_quantity;not null;default:1"`
	IsActive             bool             `gorm:"column:is_active;not null;default:true"`
	OrderCount           int              `gorm:"column:order_count;not null;default:0"`
	CreatedAt            time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (WholesaleListing) TableName() string { return "wholesale_listings" }

func (l *WholesaleListing) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}

// RetailerListing is a retailer-owned catalog entry sold to customers. Listings derived
// from a delivered wholesale order keep a back-reference to their origin.
type RetailerListing struct {
	ID                   uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SellerID             uuid.UUID       `gorm:"column:seller_id;type:uuid;not null"`
	Name                 string          `gorm:"column:name;type:text;not null"`
	Description          *string         `gorm:"column:description;type:text"`
	Category             string          `gorm:"column:category;type:text;not null;default:''"`
	Unit                 string          `gorm:"column:unit;type:text;not null;default:'unit'"`
	RetailPrice          decimal.Decimal `gorm:"column:retail_price;type:numeric(12,2);not null"`
	PurchasePrice        decimal.Decimal `gorm:"column:purchase_price;type:numeric(12,2);not null;default:0"`
	ProfitMargin         decimal.Decimal `gorm:"column:profit_margin;type:numeric(12,2);not null;default:0"`
	Stock                int             `gorm:"column:stock;not null;default:0"`
	MinimumOrderQuantity int             `gorm:"column:minimum_order_quantity;not null;default:1"`
	IsActive             bool            `gorm:"column:is_active;not null;default:true"`
	OrderCount           int             `gorm:"column:order_count;not null;default:0"`
	TotalSales           int             `gorm:"column:total_sales;not null;default:0"`
	TotalRevenue         decimal.Decimal `gorm:"column:total_revenue;type:numeric(14,2);not null;default:0"`
	TotalProfit          decimal.Decimal `gorm:"column:total_profit;type:numeric(14,2);not null;default:0"`
	OriginListingID      *uuid.UUID      `gorm:"column:origin_listing_id;type:uuid"`
	SourceOrderID        *uuid.UUID      `gorm:"column:source_order_id;type:uuid"`
	CreatedAt            time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (RetailerListing) TableName() string { return "retailer_listings" }

func (l *RetailerListing) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
