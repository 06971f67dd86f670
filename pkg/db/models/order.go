package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	"github.com/angelmondragon/marketplace-orders/pkg/types"
)

// Order is one buyer/seller transaction created at checkout.
type Order struct {
	ID                    uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber           string              `gorm:"column:order_number;type:text;not null;uniqueIndex:ux_orders_order_number"`
	BuyerID               uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID              uuid.UUID           `gorm:"column:seller_id;type:uuid;not null"`
	SellerRole            enums.SellerRole    `gorm:"column:seller_role;type:text;not null"`
	Subtotal              decimal.Decimal     `gorm:"column:subtotal;type:numeric(14,2);not null"`
	Tax                   decimal.Decimal     `gorm:"column:tax;type:numeric(14,2);not null"`
	ShippingCost          decimal.Decimal     `gorm:"column:shipping_cost;type:numeric(12,2);not null"`
	DiscountCode          *string             `gorm:"column:discount_code;type:text"`
	DiscountAmount        decimal.Decimal     `gorm:"column:discount_amount;type:numeric(12,2);not null;default:0"`
	TotalAmount           decimal.Decimal     `gorm:"column:total_amount;type:numeric(14,2);not null"`
	Status                enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus         enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	PaymentMethod         enums.PaymentMethod `gorm:"column:payment_method;type:text;not null"`
	IsPaid                bool                `gorm:"column:is_paid;not null;default:false"`
	TransactionID         *string             `gorm:"column:transaction_id;type:text"`
	PaymentIntentID       *string             `gorm:"column:payment_intent_id;type:text"`
	PaidAt                *time.Time          `gorm:"column:paid_at"`
	TrackingNumber        *string             `gorm:"column:tracking_number;type:text"`
	Carrier               *string             `gorm:"column:carrier;type:text"`
	EstimatedDeliveryDate *time.Time          `gorm:"column:estimated_delivery_date"`
	ConfirmedAt           *time.Time          `gorm:"column:confirmed_at"`
	ProcessingAt          *time.Time          `gorm:"column:processing_at"`
	ShippedAt             *time.Time          `gorm:"column:shipped_at"`
	DeliveredAt           *time.Time          `gorm:"column:delivered_at"`
	CancelledAt           *time.Time          `gorm:"column:cancelled_at"`
	RefundedAt            *time.Time          `gorm:"column:refunded_at"`
	CancellationReason    *string             `gorm:"column:cancellation_reason;type:text"`
	IsInventoryAdded      bool                `gorm:"column:is_inventory_added;not null;default:false"`
	InventoryAddedAt      *time.Time          `gorm:"column:inventory_added_at"`
	ShippingAddress       *types.Address      `gorm:"column:shipping_address;type:jsonb"`
	Notes                 *string             `gorm:"column:notes;type:text"`
	Items                 []OrderLine         `gorm:"foreignKey:OrderID;references:ID"`
	StatusHistory         []OrderStatusEntry  `gorm:"foreignKey:OrderID;references:ID"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// OrderLine snapshots the purchased listing at checkout time and never changes afterwards.
// RevenueEffect/ProfitEffect hold the exact accumulator deltas applied to a retailer
// listing so a cancellation can undo them.
type OrderLine struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       uuid.UUID         `gorm:"column:order_id;type:uuid;not null"`
	ItemRef       uuid.UUID         `gorm:"column:item_ref;type:uuid;not null"`
	ItemKind      enums.ListingKind `gorm:"column:item_kind;type:text;not null"`
	Name          string            `gorm:"column:name;type:text;not null"`
	Quantity      int               `gorm:"column:quantity;not null"`
	Price         decimal.Decimal   `gorm:"column:price;type:numeric(12,2);not null"`
	Subtotal      decimal.Decimal   `gorm:"column:subtotal;type:numeric(14,2);not null"`
	RevenueEffect *decimal.Decimal  `gorm:"column:revenue_effect;type:numeric(14,2)"`
	ProfitEffect  *decimal.Decimal  `gorm:"column:profit_effect;type:numeric(14,2)"`
	Position      int               `gorm:"column:position;not null;default:0"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (OrderLine) TableName() string { return "order_lines" }

func (l *OrderLine) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}

// OrderStatusEntry is one audit-trail row of an order's status history.
type OrderStatusEntry struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID         `gorm:"column:order_id;type:uuid;not null"`
	Status    enums.OrderStatus `gorm:"column:status;type:text;not null"`
	Note      *string           `gorm:"column:note;type:text"`
	UpdatedBy *uuid.UUID        `gorm:"column:updated_by;type:uuid"`
	ActorRole enums.ActorRole   `gorm:"column:actor_role;type:text;not null"`
	CreatedAt time.Time         `gorm:"column:created_at"`
}

func (OrderStatusEntry) TableName() string { return "order_status_history" }

func (e *OrderStatusEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}
