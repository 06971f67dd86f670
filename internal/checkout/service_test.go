package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orders/internal/cart"
	"github.com/angelmondragon/marketplace-orders/internal/catalog"
	"github.com/angelmondragon/marketplace-orders/internal/notifications"
	"github.com/angelmondragon/marketplace-orders/internal/orders"
	"github.com/angelmondragon/marketplace-orders/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
	"github.com/angelmondragon/marketplace-orders/pkg/outbox"
	"github.com/angelmondragon/marketplace-orders/pkg/types"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fixture struct {
	db    *gorm.DB
	carts cart.Service
	svc   Service
}

func newFixture(t *testing.T, numbers NumberGenerator) fixture {
	t.Helper()
	db := dbtest.Open(t)
	tx := dbtest.TxRunner{DB: db}
	listings := catalog.NewRepository(db)

	store, err := cart.NewStore(cart.NewRepository(db), cart.DefaultPricing)
	require.NoError(t, err)
	carts, err := cart.NewService(store, listings, tx, nil)
	require.NoError(t, err)
	stock, err := catalog.NewStock(listings)
	require.NoError(t, err)
	emitter, err := notifications.NewEmitter(outbox.NewService(outbox.NewRepository(db), logger.Nop()), nil)
	require.NoError(t, err)

	svc, err := NewService(Deps{
		Tx:       tx,
		Carts:    store,
		Listings: listings,
		Stock:    stock,
		Orders:   orders.NewRepository(db),
		Notifier: emitter,
		Numbers:  numbers,
	}, Options{Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)
	return fixture{db: db, carts: carts, svc: svc}
}

func (f fixture) wholesale(t *testing.T, seller uuid.UUID, stock int, price string) *models.WholesaleListing {
	t.Helper()
	row := &models.WholesaleListing{
		SellerID:             seller,
		Name:                 "Jasmine tea",
		Price:                decimal.RequireFromString(price),
		Stock:                stock,
		MinimumOrderQuantity: 1,
		IsActive:             true,
	}
	require.NoError(t, f.db.Create(row).Error)
	return row
}

func (f fixture) addToCart(t *testing.T, user uuid.UUID, listing uuid.UUID, qty int) {
	t.Helper()
	_, err := f.carts.AddItem(context.Background(), user, cart.AddItemInput{ListingID: listing, Kind: enums.ListingKindWholesale, Quantity: qty})
	require.NoError(t, err)
}

func (f fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func (f fixture) stockOf(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var row models.WholesaleListing
	require.NoError(t, f.db.Take(&row, "id = ?", id).Error)
	return row.Stock
}

func checkoutInput() CheckoutInput {
	return CheckoutInput{
		ShippingAddress: types.Address{Line1: "1 Harbour St", City: "Lisbon", State: "Lisboa", PostalCode: "1100-001", Country: "PT"},
		PaymentMethod:   enums.PaymentMethodCard,
	}
}

type stubNumbers struct {
	numbers []string
	calls   int
}

func (s *stubNumbers) Next(context.Context, time.Time) (string, error) {
	n := s.numbers[s.calls%len(s.numbers)]
	s.calls++
	return n, nil
}

func TestCheckoutFromCartSplitsOrdersPerSeller(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	buyer := uuid.New()
	sellerA, sellerB := uuid.New(), uuid.New()
	x := f.wholesale(t, sellerA, 10, "100")
	y := f.wholesale(t, sellerB, 10, "50")
	f.addToCart(t, buyer, x.ID, 2)
	f.addToCart(t, buyer, y.ID, 1)

	placed, err := f.svc.CheckoutFromCart(ctx, buyer, checkoutInput())
	require.NoError(t, err)
	require.Len(t, placed, 2)

	bySeller := map[uuid.UUID]models.Order{}
	for _, o := range placed {
		bySeller[o.SellerID] = o
		assert.Equal(t, enums.OrderStatusPending, o.Status)
		assert.Regexp(t, `^ORD-20260314-\d{5}$`, o.OrderNumber)
		require.Len(t, o.StatusHistory, 1)
		assert.Equal(t, enums.ActorRoleRetailer, o.StatusHistory[0].ActorRole)
	}
	assert.True(t, bySeller[sellerA].Subtotal.Equal(decimal.NewFromInt(200)), "subtotal A %s", bySeller[sellerA].Subtotal)
	assert.True(t, bySeller[sellerB].Subtotal.Equal(decimal.NewFromInt(50)), "subtotal B %s", bySeller[sellerB].Subtotal)
	assert.True(t, bySeller[sellerA].Tax.Equal(decimal.NewFromInt(20)))
	assert.True(t, bySeller[sellerA].TotalAmount.Equal(decimal.NewFromInt(270)), "total A %s", bySeller[sellerA].TotalAmount)

	assert.Equal(t, 8, f.stockOf(t, x.ID))
	assert.Equal(t, 9, f.stockOf(t, y.ID))

	c, err := f.carts.Get(ctx, buyer)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty(), "cart cleared after checkout")

	assert.EqualValues(t, 2, f.count(t, &models.OrderLine{}))
	assert.EqualValues(t, 2, f.count(t, &models.OrderStatusEntry{}))
	assert.EqualValues(t, 4, f.count(t, &models.OutboxEvent{}), "buyer and seller notified per order")
}

func TestCheckoutFromCartRejectsEmptyCart(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.CheckoutFromCart(context.Background(), uuid.New(), checkoutInput())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestCheckoutFromCartRevalidatesStock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	buyer := uuid.New()
	x := f.wholesale(t, uuid.New(), 10, "20")
	f.addToCart(t, buyer, x.ID, 5)
	require.NoError(t, f.db.Model(&models.WholesaleListing{}).Where("id = ?", x.ID).Update("stock", 3).Error)

	_, err := f.svc.CheckoutFromCart(ctx, buyer, checkoutInput())
	require.Error(t, err)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	failure, ok := pkgerrors.As(err).Details().(pkgerrors.ValidationFailure)
	require.True(t, ok)
	require.Len(t, failure.Errors, 1)
	assert.Equal(t, 3, failure.Errors[0].Available)

	assert.Zero(t, f.count(t, &models.Order{}))
	assert.Equal(t, 3, f.stockOf(t, x.ID))
	c, err := f.carts.Get(ctx, buyer)
	require.NoError(t, err)
	assert.False(t, c.IsEmpty(), "cart survives a failed checkout")
}

func TestCheckoutFromCartProratesDiscount(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	buyer := uuid.New()
	sellerA, sellerB := uuid.New(), uuid.New()
	x := f.wholesale(t, sellerA, 10, "100")
	y := f.wholesale(t, sellerB, 10, "50")
	f.addToCart(t, buyer, x.ID, 2)
	f.addToCart(t, buyer, y.ID, 1)
	_, err := f.carts.ApplyDiscount(ctx, buyer, "SPRING", cart.AmountOff(decimal.NewFromInt(25)))
	require.NoError(t, err)

	placed, err := f.svc.CheckoutFromCart(ctx, buyer, checkoutInput())
	require.NoError(t, err)
	require.Len(t, placed, 2)

	sum := decimal.Zero
	for _, o := range placed {
		sum = sum.Add(o.DiscountAmount)
		require.NotNil(t, o.DiscountCode)
		assert.Equal(t, "SPRING", *o.DiscountCode)
		if o.SellerID == sellerA {
			assert.True(t, o.DiscountAmount.Equal(decimal.NewFromInt(20)), "share A %s", o.DiscountAmount)
		}
	}
	assert.True(t, sum.Equal(decimal.NewFromInt(25)), "discount shares sum to %s", sum)
}

func TestCheckoutDirectInsufficientStock(t *testing.T) {
	f := newFixture(t, nil)
	x := f.wholesale(t, uuid.New(), 3, "10")

	_, err := f.svc.CheckoutDirect(context.Background(), uuid.New(), DirectCheckoutInput{
		Items:           []DirectItem{{ListingID: x.ID, Quantity: 5}},
		ShippingAddress: checkoutInput().ShippingAddress,
		PaymentMethod:   enums.PaymentMethodBankTransfer,
	})
	require.Error(t, err)
	shortage, ok := pkgerrors.StockShortageFrom(err)
	require.True(t, ok)
	assert.Equal(t, 3, shortage.Available)
	assert.Equal(t, 5, shortage.Requested)
	assert.Zero(t, f.count(t, &models.Order{}))
}

func TestCheckoutDirectRollsBackWhenDecrementFails(t *testing.T) {
	f := newFixture(t, nil)
	seller := uuid.New()
	other := f.wholesale(t, uuid.New(), 10, "5")
	x := f.wholesale(t, seller, 5, "10")

	// each line passes its own pre-check; together they exceed stock
	_, err := f.svc.CheckoutDirect(context.Background(), uuid.New(), DirectCheckoutInput{
		Items: []DirectItem{
			{ListingID: other.ID, Quantity: 4},
			{ListingID: x.ID, Quantity: 3},
			{ListingID: x.ID, Quantity: 3},
		},
		ShippingAddress: checkoutInput().ShippingAddress,
		PaymentMethod:   enums.PaymentMethodCard,
	})
	require.Error(t, err)
	shortage, ok := pkgerrors.StockShortageFrom(err)
	require.True(t, ok)
	assert.Equal(t, 2, shortage.Available)

	assert.Zero(t, f.count(t, &models.Order{}))
	assert.Zero(t, f.count(t, &models.OrderLine{}))
	assert.Zero(t, f.count(t, &models.OutboxEvent{}))
	assert.Equal(t, 10, f.stockOf(t, other.ID))
	assert.Equal(t, 5, f.stockOf(t, x.ID))
}

func TestCheckoutDirectRejectsInactiveAndMissing(t *testing.T) {
	f := newFixture(t, nil)
	x := f.wholesale(t, uuid.New(), 5, "10")
	require.NoError(t, f.db.Model(&models.WholesaleListing{}).Where("id = ?", x.ID).Update("is_active", false).Error)

	input := DirectCheckoutInput{
		Items:           []DirectItem{{ListingID: x.ID, Quantity: 1}},
		ShippingAddress: checkoutInput().ShippingAddress,
		PaymentMethod:   enums.PaymentMethodCard,
	}
	_, err := f.svc.CheckoutDirect(context.Background(), uuid.New(), input)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidState), "inactive: %v", err)

	input.Items[0].ListingID = uuid.New()
	_, err = f.svc.CheckoutDirect(context.Background(), uuid.New(), input)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound), "missing: %v", err)
}

func TestCheckoutDirectEnforcesMinimum(t *testing.T) {
	f := newFixture(t, nil)
	x := f.wholesale(t, uuid.New(), 50, "10")
	require.NoError(t, f.db.Model(&models.WholesaleListing{}).Where("id = ?", x.ID).Update("minimum_order_quantity", 6).Error)

	_, err := f.svc.CheckoutDirect(context.Background(), uuid.New(), DirectCheckoutInput{
		Items:           []DirectItem{{ListingID: x.ID, Quantity: 5}},
		ShippingAddress: checkoutInput().ShippingAddress,
		PaymentMethod:   enums.PaymentMethodCard,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeBelowMinimumQty), "got %v", err)
}

func TestCheckoutRetriesOrderNumberCollision(t *testing.T) {
	numbers := &stubNumbers{numbers: []string{"ORD-20260314-00042", "ORD-20260314-00042", "ORD-20260314-00043"}}
	f := newFixture(t, numbers)
	sellerA, sellerB := uuid.New(), uuid.New()
	x := f.wholesale(t, sellerA, 5, "10")
	y := f.wholesale(t, sellerB, 5, "10")

	placed, err := f.svc.CheckoutDirect(context.Background(), uuid.New(), DirectCheckoutInput{
		Items:           []DirectItem{{ListingID: x.ID, Quantity: 1}, {ListingID: y.ID, Quantity: 1}},
		ShippingAddress: checkoutInput().ShippingAddress,
		PaymentMethod:   enums.PaymentMethodCashOnDelivery,
	})
	require.NoError(t, err)
	require.Len(t, placed, 2)
	assert.Equal(t, "ORD-20260314-00042", placed[0].OrderNumber)
	assert.Equal(t, "ORD-20260314-00043", placed[1].OrderNumber)
	assert.Equal(t, 3, numbers.calls)
	assert.EqualValues(t, 2, f.count(t, &models.Order{}))
}

func TestCheckoutGivesUpAfterRepeatedCollisions(t *testing.T) {
	numbers := &stubNumbers{numbers: []string{"ORD-20260314-00007"}}
	f := newFixture(t, numbers)
	x := f.wholesale(t, uuid.New(), 5, "10")
	y := f.wholesale(t, uuid.New(), 5, "10")

	_, err := f.svc.CheckoutDirect(context.Background(), uuid.New(), DirectCheckoutInput{
		Items:           []DirectItem{{ListingID: x.ID, Quantity: 1}, {ListingID: y.ID, Quantity: 1}},
		ShippingAddress: checkoutInput().ShippingAddress,
		PaymentMethod:   enums.PaymentMethodCard,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict), "got %v", err)
	assert.Zero(t, f.count(t, &models.Order{}))
}

func TestCheckoutSnapshotsRetailerEffects(t *testing.T) {
	f := newFixture(t, nil)
	retailer := uuid.New()
	r := &models.RetailerListing{
		SellerID:             retailer,
		Name:                 "Jasmine tea (retail)",
		RetailPrice:          decimal.NewFromInt(15),
		PurchasePrice:        decimal.NewFromInt(10),
		ProfitMargin:         decimal.NewFromInt(5),
		Stock:                4,
		MinimumOrderQuantity: 1,
		IsActive:             true,
	}
	require.NoError(t, f.db.Create(r).Error)

	placed, err := f.svc.CheckoutDirect(context.Background(), uuid.New(), DirectCheckoutInput{
		Items:           []DirectItem{{ListingID: r.ID, Quantity: 3}},
		ShippingAddress: checkoutInput().ShippingAddress,
		PaymentMethod:   enums.PaymentMethodCard,
	})
	require.NoError(t, err)
	require.Len(t, placed, 1)
	require.Len(t, placed[0].Items, 1)
	line := placed[0].Items[0]
	require.NotNil(t, line.RevenueEffect)
	require.NotNil(t, line.ProfitEffect)
	assert.True(t, line.RevenueEffect.Equal(decimal.NewFromInt(45)))
	assert.True(t, line.ProfitEffect.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, enums.ActorRoleCustomer, placed[0].StatusHistory[0].ActorRole)
}

func TestCheckoutValidatesInput(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.CheckoutDirect(context.Background(), uuid.New(), DirectCheckoutInput{
		ShippingAddress: checkoutInput().ShippingAddress,
		PaymentMethod:   "barter",
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "got %v", err)

	_, err = f.svc.CheckoutFromCart(context.Background(), uuid.Nil, checkoutInput())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
