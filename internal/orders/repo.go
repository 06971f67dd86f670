package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
	"github.com/angelmondragon/marketplace-orders/pkg/pagination"
)

// Repository defines persistence operations for orders, their lines and history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateLines(ctx context.Context, lines []models.OrderLine) error
	AppendHistory(ctx context.Context, entries ...models.OrderStatusEntry) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ClaimInventoryConversion(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]models.Order, error)
	FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// ListFilter narrows ListOrders to one side of the order.
type ListFilter struct {
	BuyerID  *uuid.UUID
	SellerID *uuid.UUID
	Status   *enums.OrderStatus
	Cursor   *pagination.Cursor
	Limit    int
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the orders repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// CreateOrder inserts only the order row; lines and history go through their own calls.
func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error
}

func (r *repository) CreateLines(ctx context.Context, lines []models.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&lines).Error
}

func (r *repository) AppendHistory(ctx context.Context, entries ...models.OrderStatusEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.find(ctx, id, false)
}

// FindForUpdate locks the order row for the rest of the transaction.
func (r *repository) FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.find(ctx, id, true)
}

func (r *repository) find(ctx context.Context, id uuid.UUID, lock bool) (*models.Order, error) {
	q := r.db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}
	var order models.Order
	if err := q.Where("id = ?", id).Take(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("order %s not found", id))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if err := r.loadChildren(ctx, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) loadChildren(ctx context.Context, order *models.Order) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("order_id = ?", order.ID).Order("position ASC").Find(&order.Items).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order lines")
	}
	if err := db.Where("order_id = ?", order.ID).Order("created_at ASC").Find(&order.StatusHistory).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order history")
	}
	return nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update order")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("order %s not found", id))
	}
	return nil
}

// ClaimInventoryConversion flips is_inventory_added from false to true. It reports false
// when another caller already claimed it.
func (r *repository) ClaimInventoryConversion(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND is_inventory_added = ?", id, false).
		Updates(map[string]any{
			"is_inventory_added": true,
			"inventory_added_at": at,
		})
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "claim inventory conversion")
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = pagination.LimitWithBuffer(0)
	}
	q := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.BuyerID != nil {
		q = q.Where("buyer_id = ?", *filter.BuyerID)
	}
	if filter.SellerID != nil {
		q = q.Where("seller_id = ?", *filter.SellerID)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.Cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.ID)
	}
	var rows []models.Order
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	for i := range rows {
		if err := r.loadChildren(ctx, &rows[i]); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// FindPendingBefore returns unpaid pending orders created before cutoff, oldest first.
func (r *repository) FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("status = ? AND is_paid = ? AND created_at < ?", enums.OrderStatusPending, false, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find expired pending orders")
	}
	return ids, nil
}
