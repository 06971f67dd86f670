package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orders/pkg/enums"
)

// CartRecord is the persisted form of a user's cart, totals included.
type CartRecord struct {
	ID             uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	UserID         uuid.UUID        `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	DiscountCode   *string          `gorm:"column:discount_code;type:text"`
	DiscountAmount *decimal.Decimal `gorm:"column:discount_amount;type:numeric(12,2)"`
	TotalItems     int              `gorm:"column:total_items;not null;default:0"`
	TotalQuantity  int              `gorm:"column:total_quantity;not null;default:0"`
	Subtotal       decimal.Decimal  `gorm:"column:subtotal;type:numeric(14,2);not null;default:0"`
	TaxRate        decimal.Decimal  `gorm:"column:tax_rate;type:numeric(5,4);not null;default:0"`
	Tax            decimal.Decimal  `gorm:"column:tax;type:numeric(14,2);not null;default:0"`
	ShippingCost   decimal.Decimal  `gorm:"column:shipping_cost;type:numeric(12,2);not null;default:0"`
	TotalAmount    decimal.Decimal  `gorm:"column:total_amount;type:numeric(14,2);not null;default:0"`
	Items          []CartItem       `gorm:"foreignKey:CartID;references:ID"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (CartRecord) TableName() string { return "carts" }

func (c *CartRecord) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// CartItem is a line of a CartRecord; subtotal always equals price*quantity.
type CartItem struct {
	ID                     uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	CartID                 uuid.UUID         `gorm:"column:cart_id;type:uuid;not null"`
	ItemRef                uuid.UUID         `gorm:"column:item_ref;type:uuid;not null"`
	ItemKind               enums.ListingKind `gorm:"column:item_kind;type:text;not null"`
	Name                   string            `gorm:"column:name;type:text;not null"`
	Price                  decimal.Decimal   `gorm:"column:price;type:numeric(12,2);not null"`
	Quantity               int               `gorm:"column:quantity;not null"`
	Subtotal               decimal.Decimal   `gorm:"column:subtotal;type:numeric(14,2);not null"`
	SellerID               uuid.UUID         `gorm:"column:seller_id;type:uuid;not null"`
	SellerRole             enums.SellerRole  `gorm:"column:seller_role;type:text;not null"`
	AvailableStockSnapshot int               `gorm:"column:available_stock_snapshot;not null;default:0"`
	MinimumOrderQuantity   int               `gorm:"column:minimum_order_quantity;not null;default:1"`
	Position               int               `gorm:"column:position;not null;default:0"`
	CreatedAt              time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (CartItem) TableName() string { return "cart_items" }

func (i *CartItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
