// Package inventory turns a retailer's delivered wholesale order into retailer listings.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orders/internal/catalog"
	"github.com/angelmondragon/marketplace-orders/internal/notifications"
	"github.com/angelmondragon/marketplace-orders/internal/orders"
	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, userID uuid.UUID, n notifications.Notification)
}

// ConversionResult lists the retailer listings touched by one conversion.
type ConversionResult struct {
	Created []uuid.UUID
	Updated []uuid.UUID
}

type Service interface {
	ConvertDeliveredOrderToInventory(ctx context.Context, orderID, retailerID uuid.UUID) (*ConversionResult, error)
}

type service struct {
	orders   orders.Repository
	listings catalog.Repository
	tx       txRunner
	notify   notifier
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(orderRepo orders.Repository, listings catalog.Repository, tx txRunner, notify notifier, logg *logger.Logger) (Service, error) {
	switch {
	case orderRepo == nil:
		return nil, fmt.Errorf("orders repository required")
	case listings == nil:
		return nil, fmt.Errorf("catalog repository required")
	case tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case notify == nil:
		return nil, fmt.Errorf("notifier required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		orders:   orderRepo,
		listings: listings,
		tx:       tx,
		notify:   notify,
		logg:     logg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// ConvertDeliveredOrderToInventory adds every wholesale line of a delivered order to the
// buyer's own listings. The is_inventory_added claim makes it run at most once per order.
func (s *service) ConvertDeliveredOrderToInventory(ctx context.Context, orderID, retailerID uuid.UUID) (*ConversionResult, error) {
	if orderID == uuid.Nil || retailerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and retailer id are required")
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	ctx = s.logg.WithUserID(ctx, retailerID.String())

	result := &ConversionResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.orders.WithTx(tx)
		order, err := orderRepo.FindForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.BuyerID != retailerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can add this order to inventory")
		}
		if order.Status != enums.OrderStatusDelivered {
			return pkgerrors.New(pkgerrors.CodeInvalidState, fmt.Sprintf("order is %s, not delivered", order.Status))
		}
		if order.IsInventoryAdded {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "order already converted to inventory")
		}

		claimed, err := orderRepo.ClaimInventoryConversion(ctx, order.ID, s.now())
		if err != nil {
			return err
		}
		if !claimed {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "order already converted to inventory")
		}

		listings := s.listings.WithTx(tx)
		for _, line := range order.Items {
			if line.ItemKind != enums.ListingKindWholesale {
				continue
			}
			id, created, err := s.convertLine(ctx, listings, order, line)
			if err != nil {
				return err
			}
			if created {
				result.Created = append(result.Created, id)
			} else {
				result.Updated = append(result.Updated, id)
			}
		}

		s.notify.Notify(ctx, tx, retailerID, notifications.Notification{
			Type:        enums.NotificationTypeInventoryAdded,
			Priority:    enums.NotificationPriorityNormal,
			Title:       "Inventory updated",
			Message:     fmt.Sprintf("Order %s added %d new and %d existing listing(s) to your inventory.", order.OrderNumber, len(result.Created), len(result.Updated)),
			Link:        "/inventory",
			OrderID:     &order.ID,
			OrderNumber: order.OrderNumber,
		})
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			s.logg.Error(ctx, "inventory conversion failed", err)
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "convert order to inventory")
		}
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"created": len(result.Created),
		"updated": len(result.Updated),
	}), "order converted to inventory")
	return result, nil
}

func (s *service) convertLine(ctx context.Context, listings catalog.Repository, order *models.Order, line models.OrderLine) (uuid.UUID, bool, error) {
	existing, err := listings.FindDerived(ctx, order.BuyerID, line.ItemRef)
	if err != nil {
		return uuid.Nil, false, err
	}
	if existing != nil {
		return existing.ID, false, augment(ctx, listings, existing, line)
	}

	listing, err := s.derivedListing(ctx, listings, order, line)
	if err != nil {
		return uuid.Nil, false, err
	}
	err = listings.CreateRetailerListing(ctx, listing)
	if err == nil {
		return listing.ID, true, nil
	}
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		return uuid.Nil, false, err
	}

	// a concurrent conversion created it first; fold into that row instead
	existing, err = listings.FindDerived(ctx, order.BuyerID, line.ItemRef)
	if err != nil {
		return uuid.Nil, false, err
	}
	if existing == nil {
		return uuid.Nil, false, pkgerrors.New(pkgerrors.CodeConflict, "derived listing vanished during conversion")
	}
	return existing.ID, false, augment(ctx, listings, existing, line)
}

// augment blends line into a derived listing already locked by FindDerived.
func augment(ctx context.Context, listings catalog.Repository, existing *models.RetailerListing, line models.OrderLine) error {
	price := weightedAverage(existing.PurchasePrice, existing.Stock, line.Price, line.Quantity)
	return listings.AugmentRetailerListing(ctx, existing.ID, line.Quantity, price)
}

// derivedListing copies display data from the origin wholesale listing. When that
// listing is gone the order line snapshot is all there is.
func (s *service) derivedListing(ctx context.Context, listings catalog.Repository, order *models.Order, line models.OrderLine) (*models.RetailerListing, error) {
	origin := line.ItemRef
	source := order.ID
	listing := &models.RetailerListing{
		SellerID:             order.BuyerID,
		Name:                 line.Name,
		Unit:                 "unit",
		RetailPrice:          line.Price,
		PurchasePrice:        line.Price,
		Stock:                line.Quantity,
		MinimumOrderQuantity: 1,
		IsActive:             true,
		OriginListingID:      &origin,
		SourceOrderID:        &source,
	}

	wholesale, err := listings.FindWholesale(ctx, line.ItemRef)
	switch {
	case err == nil:
		listing.Name = wholesale.Name
		listing.Description = wholesale.Description
		listing.Category = wholesale.Category
		listing.Unit = wholesale.Unit
		if wholesale.SuggestedRetailPrice != nil && wholesale.SuggestedRetailPrice.IsPositive() {
			listing.RetailPrice = *wholesale.SuggestedRetailPrice
		}
	case pkgerrors.HasCode(err, pkgerrors.CodeNotFound):
		s.logg.Warn(s.logg.WithField(ctx, "item_ref", line.ItemRef.String()), "origin listing gone; using order line snapshot")
	default:
		return nil, err
	}
	listing.ProfitMargin = listing.RetailPrice.Sub(listing.PurchasePrice).Round(2)
	return listing, nil
}

// weightedAverage blends the unit cost of stock already held with a new purchase.
func weightedAverage(price decimal.Decimal, stock int, addPrice decimal.Decimal, addQty int) decimal.Decimal {
	total := stock + addQty
	if total <= 0 {
		return addPrice.Round(2)
	}
	held := price.Mul(decimal.NewFromInt(int64(stock)))
	added := addPrice.Mul(decimal.NewFromInt(int64(addQty)))
	return held.Add(added).Div(decimal.NewFromInt(int64(total))).Round(2)
}
