package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
)

// Repository persists carts and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByUser(ctx context.Context, userID uuid.UUID, forUpdate bool) (*models.CartRecord, error)
	CreateIfMissing(ctx context.Context, record *models.CartRecord) error
	Save(ctx context.Context, record *models.CartRecord) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByUser returns the user's cart with items in position order, or gorm.ErrRecordNotFound.
func (r *repository) FindByUser(ctx context.Context, userID uuid.UUID, forUpdate bool) (*models.CartRecord, error) {
	q := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("user_id = ?", userID)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record models.CartRecord
	if err := q.Take(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// CreateIfMissing inserts record unless the user already has a cart. A concurrent first
// read that wins the race leaves this a no-op instead of a unique violation.
func (r *repository) CreateIfMissing(ctx context.Context, record *models.CartRecord) error {
	return r.db.WithContext(ctx).
		Omit("Items").
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(record).Error
}

// Save writes the cart row and replaces its items wholesale.
func (r *repository) Save(ctx context.Context, record *models.CartRecord) error {
	if record == nil {
		return errors.New("cart record required")
	}
	db := r.db.WithContext(ctx)
	items := record.Items
	record.Items = nil
	defer func() { record.Items = items }()

	if record.ID == uuid.Nil {
		if err := db.Create(record).Error; err != nil {
			return err
		}
	} else if err := db.Omit("Items").Save(record).Error; err != nil {
		return err
	}

	if err := db.Where("cart_id = ?", record.ID).Delete(&models.CartItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].ID = uuid.Nil
		items[i].CartID = record.ID
		items[i].Position = i
	}
	return db.Create(&items).Error
}

func toRecord(c *Cart) *models.CartRecord {
	record := &models.CartRecord{
		ID:             c.ID,
		UserID:         c.UserID,
		DiscountCode:   c.discountCode,
		DiscountAmount: c.discountAmount,
		TotalItems:     c.totalItems,
		TotalQuantity:  c.totalQuantity,
		Subtotal:       c.subtotal,
		TaxRate:        c.pricing.TaxRate,
		Tax:            c.tax,
		ShippingCost:   c.shippingCost,
		TotalAmount:    c.totalAmount,
	}
	record.Items = make([]models.CartItem, 0, len(c.Items))
	for _, line := range c.Items {
		record.Items = append(record.Items, models.CartItem{
			ItemRef:                line.ItemRef,
			ItemKind:               line.Kind,
			Name:                   line.Name,
			Price:                  line.Price,
			Quantity:               line.Quantity,
			Subtotal:               line.Subtotal(),
			SellerID:               line.SellerID,
			SellerRole:             line.SellerRole,
			AvailableStockSnapshot: line.AvailableStockSnapshot,
			MinimumOrderQuantity:   line.MinimumOrderQuantity,
		})
	}
	return record
}

// fromRecord rebuilds the aggregate and recomputes totals with the current pricing,
// so a rate change never leaves a stored cart stale once it is saved again.
func fromRecord(record *models.CartRecord, p Pricing) *Cart {
	c := &Cart{
		ID:             record.ID,
		UserID:         record.UserID,
		UpdatedAt:      record.UpdatedAt,
		pricing:        p,
		discountCode:   record.DiscountCode,
		discountAmount: record.DiscountAmount,
	}
	for _, item := range record.Items {
		c.Items = append(c.Items, Line{
			ItemRef:                item.ItemRef,
			Kind:                   item.ItemKind,
			Name:                   item.Name,
			Price:                  item.Price,
			Quantity:               item.Quantity,
			SellerID:               item.SellerID,
			SellerRole:             item.SellerRole,
			AvailableStockSnapshot: item.AvailableStockSnapshot,
			MinimumOrderQuantity:   item.MinimumOrderQuantity,
		})
	}
	c.recalculate()
	return c
}
