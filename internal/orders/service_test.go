package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orders/internal/catalog"
	"github.com/angelmondragon/marketplace-orders/internal/notifications"
	"github.com/angelmondragon/marketplace-orders/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-orders/pkg/db/models"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
	"github.com/angelmondragon/marketplace-orders/pkg/metrics"
	"github.com/angelmondragon/marketplace-orders/pkg/pagination"
)

type sentNotification struct {
	userID uuid.UUID
	n      notifications.Notification
}

type recordingNotifier struct {
	sent []sentNotification
}

func (r *recordingNotifier) Notify(_ context.Context, _ *gorm.DB, userID uuid.UUID, n notifications.Notification) {
	r.sent = append(r.sent, sentNotification{userID: userID, n: n})
}

type fixture struct {
	db       *gorm.DB
	svc      Service
	notifier *recordingNotifier
	registry *prometheus.Registry
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	stock, err := catalog.NewStock(catalog.NewRepository(db))
	require.NoError(t, err)
	f := &fixture{
		db:       db,
		notifier: &recordingNotifier{},
		registry: prometheus.NewRegistry(),
		now:      time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc, err = NewService(NewRepository(db), dbtest.TxRunner{DB: db}, stock, f.notifier, Options{
		DeliveryWindow: 72 * time.Hour,
		Metrics:        metrics.NewOrders(f.registry),
		Now:            func() time.Time { return f.now },
	})
	require.NoError(t, err)
	return f
}

// seedOrder writes a listing with stock left over and an order of qty units against it.
func (f *fixture) seedOrder(t *testing.T, status enums.OrderStatus, stockLeft, qty int) (*models.Order, *models.WholesaleListing) {
	t.Helper()
	seller := uuid.New()
	listing := &models.WholesaleListing{
		SellerID:             seller,
		Name:                 "Olive oil 5L",
		Price:                decimal.NewFromInt(30),
		Stock:                stockLeft,
		MinimumOrderQuantity: 1,
		IsActive:             true,
	}
	require.NoError(t, f.db.Create(listing).Error)

	subtotal := decimal.NewFromInt(int64(30 * qty))
	order := &models.Order{
		OrderNumber:   "ORD-20260401-" + uuid.NewString()[:5],
		BuyerID:       uuid.New(),
		SellerID:      seller,
		SellerRole:    enums.SellerRoleWholesaler,
		Subtotal:      subtotal,
		Tax:           decimal.Zero,
		ShippingCost:  decimal.Zero,
		TotalAmount:   subtotal,
		Status:        status,
		PaymentStatus: enums.PaymentStatusPending,
		PaymentMethod: enums.PaymentMethodCard,
	}
	require.NoError(t, f.db.Omit("Items", "StatusHistory").Create(order).Error)
	line := models.OrderLine{
		OrderID:  order.ID,
		ItemRef:  listing.ID,
		ItemKind: enums.ListingKindWholesale,
		Name:     listing.Name,
		Quantity: qty,
		Price:    listing.Price,
		Subtotal: subtotal,
	}
	require.NoError(t, f.db.Create(&line).Error)
	return order, listing
}

func (f *fixture) stockOf(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var row models.WholesaleListing
	require.NoError(t, f.db.Take(&row, "id = ?", id).Error)
	return row.Stock
}

func sellerOf(o *models.Order) Actor { return Actor{UserID: o.SellerID, Role: enums.ActorRoleWholesaler} }
func buyerOf(o *models.Order) Actor  { return Actor{UserID: o.BuyerID, Role: enums.ActorRoleRetailer} }

func TestCancelShippedOrderRestoresStock(t *testing.T) {
	f := newFixture(t)
	order, listing := f.seedOrder(t, enums.OrderStatusShipped, 2, 3)

	got, err := f.svc.CancelOrder(context.Background(), buyerOf(order), order.ID, "changed my mind")
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)
	require.NotNil(t, got.CancellationReason)
	assert.Equal(t, "changed my mind", *got.CancellationReason)
	assert.Equal(t, 5, f.stockOf(t, listing.ID))

	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, order.BuyerID, f.notifier.sent[0].userID)
	assert.Equal(t, order.SellerID, f.notifier.sent[1].userID)
	assert.Equal(t, enums.NotificationTypeOrderCancelled, f.notifier.sent[0].n.Type)

	var history []models.OrderStatusEntry
	require.NoError(t, f.db.Where("order_id = ?", order.ID).Find(&history).Error)
	require.Len(t, history, 1)
	assert.Equal(t, enums.OrderStatusCancelled, history[0].Status)
	assert.Equal(t, enums.ActorRoleRetailer, history[0].ActorRole)

	series, err := testutil.GatherAndCount(f.registry, "order_status_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestCancelDeliveredOrderRejected(t *testing.T) {
	f := newFixture(t)
	order, listing := f.seedOrder(t, enums.OrderStatusDelivered, 2, 3)

	_, err := f.svc.CancelOrder(context.Background(), buyerOf(order), order.ID, "")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidState))
	assert.Equal(t, 2, f.stockOf(t, listing.ID), "stock untouched")
	assert.Empty(t, f.notifier.sent)
}

func TestCancelSkipsDeletedListing(t *testing.T) {
	f := newFixture(t)
	order, listing := f.seedOrder(t, enums.OrderStatusPending, 2, 3)
	require.NoError(t, f.db.Delete(&models.WholesaleListing{}, "id = ?", listing.ID).Error)

	got, err := f.svc.CancelOrder(context.Background(), Actor{Role: enums.ActorRoleAdmin}, order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, got.Status)
}

func TestCancelRestoresRetailerAccumulators(t *testing.T) {
	f := newFixture(t)
	listing := &models.RetailerListing{
		SellerID:             uuid.New(),
		Name:                 "Olive oil 500ml",
		RetailPrice:          decimal.NewFromInt(15),
		PurchasePrice:        decimal.NewFromInt(10),
		ProfitMargin:         decimal.NewFromInt(5),
		Stock:                7,
		MinimumOrderQuantity: 1,
		IsActive:             true,
		OrderCount:           1,
		TotalSales:           3,
		TotalRevenue:         decimal.NewFromInt(45),
		TotalProfit:          decimal.NewFromInt(15),
	}
	require.NoError(t, f.db.Create(listing).Error)
	// price changed after the sale; cancellation must still undo the recorded amounts
	require.NoError(t, f.db.Model(listing).Updates(map[string]any{"retail_price": decimal.NewFromInt(20), "profit_margin": decimal.NewFromInt(10)}).Error)

	revenue, profit := decimal.NewFromInt(45), decimal.NewFromInt(15)
	order := &models.Order{
		OrderNumber:   "ORD-20260401-00099",
		BuyerID:       uuid.New(),
		SellerID:      listing.SellerID,
		SellerRole:    enums.SellerRoleRetailer,
		Subtotal:      revenue,
		TotalAmount:   revenue,
		Status:        enums.OrderStatusConfirmed,
		PaymentStatus: enums.PaymentStatusPending,
		PaymentMethod: enums.PaymentMethodCard,
	}
	require.NoError(t, f.db.Omit("Items", "StatusHistory").Create(order).Error)
	require.NoError(t, f.db.Create(&models.OrderLine{
		OrderID: order.ID, ItemRef: listing.ID, ItemKind: enums.ListingKindRetailer, Name: listing.Name,
		Quantity: 3, Price: decimal.NewFromInt(15), Subtotal: revenue, RevenueEffect: &revenue, ProfitEffect: &profit,
	}).Error)

	_, err := f.svc.CancelOrder(context.Background(), sellerOf(order), order.ID, "out of stock")
	require.NoError(t, err)

	var after models.RetailerListing
	require.NoError(t, f.db.Take(&after, "id = ?", listing.ID).Error)
	assert.Equal(t, 10, after.Stock)
	assert.Equal(t, 0, after.TotalSales)
	assert.True(t, after.TotalRevenue.IsZero(), "revenue %s", after.TotalRevenue)
	assert.True(t, after.TotalProfit.IsZero(), "profit %s", after.TotalProfit)
}

func TestUpdateOrderStatusFollowsTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.seedOrder(t, enums.OrderStatusPending, 5, 1)
	seller := sellerOf(order)

	_, err := f.svc.UpdateOrderStatus(ctx, seller, order.ID, enums.OrderStatusShipped, "")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidState), "skip ahead: %v", err)

	got, err := f.svc.UpdateOrderStatus(ctx, seller, order.ID, enums.OrderStatusConfirmed, "accepted")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, got.Status)
	require.NotNil(t, got.ConfirmedAt)
	require.Len(t, got.StatusHistory, 1)
	assert.Equal(t, "accepted", *got.StatusHistory[0].Note)

	_, err = f.svc.UpdateOrderStatus(ctx, buyerOf(order), order.ID, enums.OrderStatusProcessing, "")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden), "buyer cannot fulfil: %v", err)

	_, err = f.svc.UpdateOrderStatus(ctx, seller, order.ID, "lost", "")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "unknown status: %v", err)
}

func TestUpdateOrderStatusToShippedSetsEstimate(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedOrder(t, enums.OrderStatusProcessing, 5, 1)

	got, err := f.svc.UpdateOrderStatus(context.Background(), sellerOf(order), order.ID, enums.OrderStatusShipped, "")
	require.NoError(t, err)
	require.NotNil(t, got.EstimatedDeliveryDate)
	assert.True(t, got.EstimatedDeliveryDate.Equal(f.now.Add(72*time.Hour)))
}

func TestUpdateOrderStatusCancelRestoresStock(t *testing.T) {
	f := newFixture(t)
	order, listing := f.seedOrder(t, enums.OrderStatusConfirmed, 1, 4)

	got, err := f.svc.UpdateOrderStatus(context.Background(), sellerOf(order), order.ID, enums.OrderStatusCancelled, "no courier")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, got.Status)
	assert.Equal(t, 5, f.stockOf(t, listing.ID))
}

func TestAddTrackingWalksToShipped(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedOrder(t, enums.OrderStatusPending, 5, 1)

	got, err := f.svc.AddTracking(context.Background(), sellerOf(order), order.ID, " 1Z999 ", "UPS")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, got.Status)
	require.NotNil(t, got.TrackingNumber)
	assert.Equal(t, "1Z999", *got.TrackingNumber)
	require.NotNil(t, got.ConfirmedAt)
	require.NotNil(t, got.ProcessingAt)
	require.NotNil(t, got.ShippedAt)

	var history []models.OrderStatusEntry
	require.NoError(t, f.db.Where("order_id = ?", order.ID).Order("created_at ASC").Find(&history).Error)
	require.Len(t, history, 3)
	for _, h := range history {
		require.NotNil(t, h.Note)
		assert.Equal(t, "Tracking number: 1Z999", *h.Note)
	}

	again, err := f.svc.AddTracking(context.Background(), sellerOf(order), order.ID, "1Z000", "")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, again.Status, "already shipped orders only get the number")
	assert.Equal(t, "1Z000", *again.TrackingNumber)
}

func TestAddTrackingRejectsCancelled(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedOrder(t, enums.OrderStatusCancelled, 5, 1)

	_, err := f.svc.AddTracking(context.Background(), sellerOf(order), order.ID, "1Z999", "")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidState), "got %v", err)

	_, err = f.svc.AddTracking(context.Background(), sellerOf(order), order.ID, "  ", "")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestMarkAsPaidIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.seedOrder(t, enums.OrderStatusPending, 5, 1)

	got, err := f.svc.MarkAsPaid(ctx, order.ID, "txn_1", "pi_1")
	require.NoError(t, err)
	assert.True(t, got.IsPaid)
	assert.Equal(t, enums.PaymentStatusCompleted, got.PaymentStatus)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, order.SellerID, f.notifier.sent[0].userID)

	_, err = f.svc.MarkAsPaid(ctx, order.ID, "txn_1", "pi_1")
	require.NoError(t, err)
	assert.Len(t, f.notifier.sent, 1, "repeat is a no-op")

	_, err = f.svc.MarkAsPaid(ctx, order.ID, "txn_2", "")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
}

func TestExpirePendingOnlyTouchesUnpaidPendingOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale, staleListing := f.seedOrder(t, enums.OrderStatusPending, 1, 2)
	got, err := f.svc.ExpirePending(ctx, stale.ID, "payment window elapsed")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, got.Status)
	assert.Equal(t, 3, f.stockOf(t, staleListing.ID))

	paid, paidListing := f.seedOrder(t, enums.OrderStatusPending, 1, 2)
	_, err = f.svc.MarkAsPaid(ctx, paid.ID, "txn_paid", "")
	require.NoError(t, err)
	_, err = f.svc.ExpirePending(ctx, paid.ID, "payment window elapsed")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidState))

	confirmed, confirmedListing := f.seedOrder(t, enums.OrderStatusPending, 1, 2)
	_, err = f.svc.MarkAsPaid(ctx, confirmed.ID, "txn_confirmed", "")
	require.NoError(t, err)
	_, err = f.svc.UpdateOrderStatus(ctx, sellerOf(confirmed), confirmed.ID, enums.OrderStatusConfirmed, "")
	require.NoError(t, err)
	_, err = f.svc.ExpirePending(ctx, confirmed.ID, "payment window elapsed")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidState))

	for _, id := range []uuid.UUID{paid.ID, confirmed.ID} {
		var row models.Order
		require.NoError(t, f.db.Take(&row, "id = ?", id).Error)
		assert.NotEqual(t, enums.OrderStatusCancelled, row.Status)
		assert.True(t, row.IsPaid)
	}
	assert.Equal(t, 1, f.stockOf(t, paidListing.ID))
	assert.Equal(t, 1, f.stockOf(t, confirmedListing.ID))
}

func TestRefundPaidOrderMarksPaymentRefunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, listing := f.seedOrder(t, enums.OrderStatusShipped, 2, 3)
	_, err := f.svc.MarkAsPaid(ctx, order.ID, "txn_9", "")
	require.NoError(t, err)

	got, err := f.svc.UpdateOrderStatus(ctx, Actor{Role: enums.ActorRoleAdmin}, order.ID, enums.OrderStatusRefunded, "damaged")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRefunded, got.Status)
	assert.Equal(t, enums.PaymentStatusRefunded, got.PaymentStatus)
	require.NotNil(t, got.RefundedAt)
	assert.Equal(t, 2, f.stockOf(t, listing.ID), "refund leaves stock alone")
}

func TestGetOrderAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.seedOrder(t, enums.OrderStatusPending, 5, 2)

	got, err := f.svc.GetOrder(ctx, buyerOf(order), order.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)

	_, err = f.svc.GetOrder(ctx, sellerOf(order), order.ID)
	require.NoError(t, err)
	_, err = f.svc.GetOrder(ctx, Actor{Role: enums.ActorRoleAdmin}, order.ID)
	require.NoError(t, err)

	_, err = f.svc.GetOrder(ctx, Actor{UserID: uuid.New(), Role: enums.ActorRoleCustomer}, order.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))
	_, err = f.svc.CancelOrder(ctx, Actor{UserID: uuid.New()}, order.ID, "")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.GetOrder(ctx, buyerOf(order), uuid.New())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestListOrdersBySide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, _ := f.seedOrder(t, enums.OrderStatusPending, 5, 1)
	second, _ := f.seedOrder(t, enums.OrderStatusPending, 5, 1)
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", second.ID).Update("buyer_id", first.BuyerID).Error)

	asBuyer, err := f.svc.ListOrders(ctx, buyerOf(first), ListOrdersInput{})
	require.NoError(t, err)
	assert.Len(t, asBuyer.Orders, 2)
	assert.Empty(t, asBuyer.NextCursor)

	asSeller, err := f.svc.ListOrders(ctx, sellerOf(first), ListOrdersInput{AsSeller: true})
	require.NoError(t, err)
	require.Len(t, asSeller.Orders, 1)
	assert.Equal(t, first.ID, asSeller.Orders[0].ID)

	confirmed := enums.OrderStatusConfirmed
	none, err := f.svc.ListOrders(ctx, buyerOf(first), ListOrdersInput{Status: &confirmed})
	require.NoError(t, err)
	assert.Empty(t, none.Orders)
}

func TestListOrdersPagesWithCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, _ := f.seedOrder(t, enums.OrderStatusPending, 5, 1)
	second, _ := f.seedOrder(t, enums.OrderStatusPending, 5, 1)
	third, _ := f.seedOrder(t, enums.OrderStatusPending, 5, 1)
	base := f.now.Add(-time.Hour)
	for i, id := range []uuid.UUID{first.ID, second.ID, third.ID} {
		require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", id).Updates(map[string]any{
			"buyer_id":   first.BuyerID,
			"created_at": base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}

	page, err := f.svc.ListOrders(ctx, buyerOf(first), ListOrdersInput{Params: pagination.Params{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	assert.Equal(t, third.ID, page.Orders[0].ID)
	assert.Equal(t, second.ID, page.Orders[1].ID)
	require.NotEmpty(t, page.NextCursor)

	rest, err := f.svc.ListOrders(ctx, buyerOf(first), ListOrdersInput{Params: pagination.Params{Limit: 2, Cursor: page.NextCursor}})
	require.NoError(t, err)
	require.Len(t, rest.Orders, 1)
	assert.Equal(t, first.ID, rest.Orders[0].ID)
	assert.Empty(t, rest.NextCursor)

	_, err = f.svc.ListOrders(ctx, buyerOf(first), ListOrdersInput{Params: pagination.Params{Cursor: "%%%"}})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
