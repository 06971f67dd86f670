package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orders/internal/cart"
	"github.com/angelmondragon/marketplace-orders/internal/catalog"
	"github.com/angelmondragon/marketplace-orders/internal/notifications"
	"github.com/angelmondragon/marketplace-orders/internal/orders"
	"github.com/angelmondragon/marketplace-orders/pkg/db"
	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
	"github.com/angelmondragon/marketplace-orders/pkg/metrics"
	"github.com/angelmondragon/marketplace-orders/pkg/types"
	"github.com/angelmondragon/marketplace-orders/pkg/validate"
)

const (
	defaultNumberAttempts = 5

	sourceCart   = "cart"
	sourceDirect = "direct"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockDecreaser interface {
	DecreaseStock(ctx context.Context, tx *gorm.DB, ref catalog.Ref, qty int) (catalog.StockEffect, error)
}

type notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, userID uuid.UUID, n notifications.Notification)
}

// Service turns a cart or a direct item list into one order per seller.
type Service interface {
	CheckoutFromCart(ctx context.Context, userID uuid.UUID, input CheckoutInput) ([]models.Order, error)
	CheckoutDirect(ctx context.Context, buyerID uuid.UUID, input DirectCheckoutInput) ([]models.Order, error)
}

type CheckoutInput struct {
	ShippingAddress types.Address       `json:"shippingAddress" validate:"required"`
	PaymentMethod   enums.PaymentMethod `json:"paymentMethod" validate:"required,oneof=card bank_transfer cash_on_delivery"`
	Notes           string              `json:"notes" validate:"max=2000"`
}

type DirectItem struct {
	ListingID uuid.UUID `json:"listingId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"gt=0"`
}

type DirectCheckoutInput struct {
	Items           []DirectItem        `json:"items" validate:"required,min=1,dive"`
	ShippingAddress types.Address       `json:"shippingAddress" validate:"required"`
	PaymentMethod   enums.PaymentMethod `json:"paymentMethod" validate:"required,oneof=card bank_transfer cash_on_delivery"`
	Notes           string              `json:"notes" validate:"max=2000"`
}

// Deps groups the collaborators checkout writes through.
type Deps struct {
	Tx       txRunner
	Carts    *cart.Store
	Listings catalog.Repository
	Stock    stockDecreaser
	Orders   orders.Repository
	Notifier notifier
	Numbers  NumberGenerator
}

type Options struct {
	Pricing        cart.Pricing
	NumberAttempts int
	Metrics        *metrics.Checkout
	Logger         *logger.Logger
	Now            func() time.Time
}

type service struct {
	Deps
	pricing  cart.Pricing
	attempts int
	metrics  *metrics.Checkout
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the checkout service.
func NewService(deps Deps, opts Options) (Service, error) {
	switch {
	case deps.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case deps.Carts == nil:
		return nil, fmt.Errorf("cart store required")
	case deps.Listings == nil:
		return nil, fmt.Errorf("catalog repository required")
	case deps.Stock == nil:
		return nil, fmt.Errorf("stock decreaser required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case deps.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	}
	if deps.Numbers == nil {
		deps.Numbers = NewRandomNumbers()
	}
	svc := &service{
		Deps:     deps,
		pricing:  opts.Pricing,
		attempts: opts.NumberAttempts,
		metrics:  opts.Metrics,
		logg:     opts.Logger,
		now:      opts.Now,
	}
	if svc.pricing.TaxRate.IsZero() && svc.pricing.FlatShipping.IsZero() {
		svc.pricing = deps.Carts.Pricing()
	}
	if svc.attempts <= 0 {
		svc.attempts = defaultNumberAttempts
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc, nil
}

// CheckoutFromCart validates the user's cart, places one order per seller and clears
// the cart, all in one transaction.
func (s *service) CheckoutFromCart(ctx context.Context, userID uuid.UUID, input CheckoutInput) ([]models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithUserID(ctx, userID.String())
	started := time.Now()

	var placed []models.Order
	err := s.Tx.WithTx(ctx, func(tx *gorm.DB) error {
		c, err := s.Carts.Load(ctx, tx, userID)
		if err != nil {
			return err
		}
		if c.IsEmpty() {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}
		result, err := cart.ValidateLines(ctx, s.Listings.WithTx(tx), c.Items)
		if err != nil {
			return err
		}
		if err := result.Err(); err != nil {
			return err
		}

		lines := make([]purchaseLine, 0, len(c.Items))
		for _, item := range c.Items {
			lines = append(lines, purchaseLine{
				Ref:        catalog.Ref{ID: item.ItemRef, Kind: item.Kind},
				Name:       item.Name,
				Price:      item.Price,
				Quantity:   item.Quantity,
				SellerID:   item.SellerID,
				SellerRole: item.SellerRole,
			})
		}
		placed, err = s.place(ctx, tx, userID, lines, placement{
			address:       input.ShippingAddress,
			paymentMethod: input.PaymentMethod,
			notes:         input.Notes,
			discountCode:  c.DiscountCode(),
			discount:      c.DiscountValue(),
		})
		if err != nil {
			return err
		}

		c.Clear()
		return s.Carts.Save(ctx, tx, c)
	})
	return s.finish(ctx, sourceCart, started, placed, err)
}

// CheckoutDirect resolves each item against both listing kinds and checks it inline.
func (s *service) CheckoutDirect(ctx context.Context, buyerID uuid.UUID, input DirectCheckoutInput) ([]models.Order, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithUserID(ctx, buyerID.String())
	started := time.Now()

	var placed []models.Order
	err := s.Tx.WithTx(ctx, func(tx *gorm.DB) error {
		listings := s.Listings.WithTx(tx)
		lines := make([]purchaseLine, 0, len(input.Items))
		for _, item := range input.Items {
			listing, err := listings.Resolve(ctx, item.ListingID)
			if err != nil {
				return err
			}
			if err := checkListing(listing, item.Quantity); err != nil {
				return err
			}
			lines = append(lines, purchaseLine{
				Ref:        catalog.Ref{ID: listing.ID, Kind: listing.Kind},
				Name:       listing.Name,
				Price:      listing.Price,
				Quantity:   item.Quantity,
				SellerID:   listing.SellerID,
				SellerRole: listing.SellerRole,
			})
		}
		var err error
		placed, err = s.place(ctx, tx, buyerID, lines, placement{
			address:       input.ShippingAddress,
			paymentMethod: input.PaymentMethod,
			notes:         input.Notes,
		})
		return err
	})
	return s.finish(ctx, sourceDirect, started, placed, err)
}

func checkListing(listing *catalog.Listing, qty int) error {
	if !listing.IsActive {
		return pkgerrors.New(pkgerrors.CodeInvalidState, fmt.Sprintf("listing %s is inactive", listing.ID))
	}
	if qty < listing.MinimumOrderQuantity {
		return pkgerrors.NewBelowMinimum(pkgerrors.MinimumShortfall{ItemRef: listing.ID, Requested: qty, Minimum: listing.MinimumOrderQuantity})
	}
	if listing.Stock < qty {
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

type placement struct {
	address       types.Address
	paymentMethod enums.PaymentMethod
	notes         string
	discountCode  *string
	discount      decimal.Decimal
}

// place writes every seller group's order inside tx. Any failure aborts the caller's
// transaction, so either all orders exist or none do.
func (s *service) place(ctx context.Context, tx *gorm.DB, buyerID uuid.UUID, lines []purchaseLine, p placement) ([]models.Order, error) {
	groups := groupBySeller(lines)
	priceGroups(groups, s.pricing, p.discount)

	now := s.now()
	address := p.address.Normalize()
	var notes *string
	if trimmed := strings.TrimSpace(p.notes); trimmed != "" {
		notes = &trimmed
	}

	repo := s.Orders.WithTx(tx)
	placed := make([]models.Order, 0, len(groups))
	for _, g := range groups {
		order := &models.Order{
			BuyerID:         buyerID,
			SellerID:        g.SellerID,
			SellerRole:      g.SellerRole,
			Subtotal:        g.Subtotal,
			Tax:             g.Tax,
			ShippingCost:    g.Shipping,
			DiscountAmount:  g.Discount,
			TotalAmount:     g.Total,
			Status:          enums.OrderStatusPending,
			PaymentStatus:   enums.PaymentStatusPending,
			PaymentMethod:   p.paymentMethod,
			ShippingAddress: &address,
			Notes:           notes,
		}
		if g.Discount.IsPositive() {
			order.DiscountCode = p.discountCode
		}
		if err := s.insertWithNumber(ctx, tx, order, now); err != nil {
			return nil, err
		}

		orderLines := make([]models.OrderLine, 0, len(g.Lines))
		for i, line := range g.Lines {
			effect, err := s.Stock.DecreaseStock(ctx, tx, line.Ref, line.Quantity)
			if err != nil {
				return nil, err
			}
			ol := models.OrderLine{
				OrderID:  order.ID,
				ItemRef:  line.Ref.ID,
				ItemKind: line.Ref.Kind,
				Name:     line.Name,
				Quantity: line.Quantity,
				Price:    line.Price,
				Subtotal: line.subtotal(),
				Position: i,
			}
			if line.Ref.Kind == enums.ListingKindRetailer {
				revenue, profit := effect.Revenue, effect.Profit
				ol.RevenueEffect = &revenue
				ol.ProfitEffect = &profit
			}
			orderLines = append(orderLines, ol)
		}
		if err := repo.CreateLines(ctx, orderLines); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order lines")
		}

		note := "Order placed"
		entry := models.OrderStatusEntry{
			OrderID:   order.ID,
			Status:    enums.OrderStatusPending,
			Note:      &note,
			UpdatedBy: &buyerID,
			ActorRole: buyerRole(g.SellerRole),
			CreatedAt: now,
		}
		if err := repo.AppendHistory(ctx, entry); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append status history")
		}
		order.Items = orderLines
		order.StatusHistory = []models.OrderStatusEntry{entry}

		s.notifyPlaced(ctx, tx, order)
		placed = append(placed, *order)
	}
	return placed, nil
}

// insertWithNumber inserts the order row in a savepoint, drawing a new number each time
// the unique index rejects one.
func (s *service) insertWithNumber(ctx context.Context, tx *gorm.DB, order *models.Order, now time.Time) error {
	repo := s.Orders
	for attempt := 1; ; attempt++ {
		number, err := s.Numbers.Next(ctx, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "generate order number")
		}
		order.OrderNumber = number
		err = tx.Transaction(func(sp *gorm.DB) error {
			return repo.WithTx(sp).CreateOrder(ctx, order)
		})
		if err == nil {
			return nil
		}
		if !isOrderNumberCollision(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if attempt >= s.attempts {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "could not allocate a unique order number")
		}
		s.logg.Warn(s.logg.WithField(ctx, "order_number", number), "order number collision; retrying")
	}
}

func isOrderNumberCollision(err error) bool {
	return db.IsUniqueViolation(err, "ux_orders_order_number") || db.IsUniqueViolation(err, "orders.order_number")
}

func (s *service) notifyPlaced(ctx context.Context, tx *gorm.DB, order *models.Order) {
	link := "/orders/" + order.ID.String()
	s.Notifier.Notify(ctx, tx, order.BuyerID, notifications.Notification{
		Type:        enums.NotificationTypeOrderPlaced,
		Priority:    enums.NotificationPriorityNormal,
		Title:       "Order placed",
		Message:     fmt.Sprintf("Your order %s totalling %s has been placed.", order.OrderNumber, order.TotalAmount.StringFixed(2)),
		Link:        link,
		OrderID:     &order.ID,
		OrderNumber: order.OrderNumber,
	})
	s.Notifier.Notify(ctx, tx, order.SellerID, notifications.Notification{
		Type:        enums.NotificationTypeOrderReceived,
		Priority:    enums.NotificationPriorityHigh,
		Title:       "New order received",
		Message:     fmt.Sprintf("You received order %s with %d line(s).", order.OrderNumber, len(order.Items)),
		Link:        link,
		OrderID:     &order.ID,
		OrderNumber: order.OrderNumber,
	})
}

func (s *service) finish(ctx context.Context, source string, started time.Time, placed []models.Order, err error) ([]models.Order, error) {
	elapsed := time.Since(started)
	if err != nil {
		typed := pkgerrors.As(err)
		if typed == nil {
			s.logg.Error(ctx, "checkout failed", err)
			typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checkout")
		}
		s.metrics.ObserveFailure(source, string(typed.Code()), elapsed)
		return nil, typed
	}
	s.metrics.ObserveSuccess(source, len(placed), elapsed)
	s.logg.Info(s.logg.WithField(ctx, "orders", len(placed)), "checkout completed")
	return placed, nil
}

// buyerRole infers who is buying from the tier being bought from.
func buyerRole(seller enums.SellerRole) enums.ActorRole {
	if seller == enums.SellerRoleWholesaler {
		return enums.ActorRoleRetailer
	}
	return enums.ActorRoleCustomer
}
