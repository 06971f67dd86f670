package cart

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-orders/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orders/pkg/errors"
)

// Line is one cart entry, keyed by (ItemRef, Kind).
type Line struct {
	ItemRef                uuid.UUID
	Kind                   enums.ListingKind
	Name                   string
	Price                  decimal.Decimal
	Quantity               int
	SellerID               uuid.UUID
	SellerRole             enums.SellerRole
	AvailableStockSnapshot int
	MinimumOrderQuantity   int
}

func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
}

// Discount is either a percentage of the subtotal or a fixed amount.
type Discount struct {
	Percentage *decimal.Decimal
	Amount     *decimal.Decimal
}

// Cart is the per-user cart aggregate. Totals can only change through recalculate,
// which every mutation calls before returning.
type Cart struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Items     []Line
	UpdatedAt time.Time

	pricing        Pricing
	discountCode   *string
	discountAmount *decimal.Decimal

	totalItems    int
	totalQuantity int
	subtotal      decimal.Decimal
	tax           decimal.Decimal
	shippingCost  decimal.Decimal
	totalAmount   decimal.Decimal
}

// New returns an empty cart for userID priced with p.
func New(userID uuid.UUID, p Pricing) *Cart {
	c := &Cart{UserID: userID, pricing: p}
	c.recalculate()
	return c
}

func (c *Cart) TotalItems() int                  { return c.totalItems }
func (c *Cart) TotalQuantity() int               { return c.totalQuantity }
func (c *Cart) Subtotal() decimal.Decimal        { return c.subtotal }
func (c *Cart) TaxRate() decimal.Decimal         { return c.pricing.TaxRate }
func (c *Cart) Tax() decimal.Decimal             { return c.tax }
func (c *Cart) ShippingCost() decimal.Decimal    { return c.shippingCost }
func (c *Cart) TotalAmount() decimal.Decimal     { return c.totalAmount }
func (c *Cart) DiscountCode() *string            { return c.discountCode }
func (c *Cart) DiscountAmount() *decimal.Decimal { return c.discountAmount }
func (c *Cart) IsEmpty() bool                    { return len(c.Items) == 0 }

// DiscountValue is the discount amount or zero.
func (c *Cart) DiscountValue() decimal.Decimal {
	if c.discountAmount == nil {
		return decimal.Zero
	}
	return *c.discountAmount
}

func (c *Cart) indexOf(ref uuid.UUID, kind enums.ListingKind) int {
	for i, line := range c.Items {
		if line.ItemRef == ref && line.Kind == kind {
			return i
		}
	}
	return -1
}

// AddItem merges into an existing line by summing quantities, refreshing the
// snapshot fields, or appends a new line.
func (c *Cart) AddItem(line Line) error {
	if line.Quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if idx := c.indexOf(line.ItemRef, line.Kind); idx >= 0 {
		line.Quantity += c.Items[idx].Quantity
		c.Items[idx] = line
	} else {
		c.Items = append(c.Items, line)
	}
	c.recalculate()
	return nil
}

// UpdateQuantity sets the quantity of an existing line; qty <= 0 removes it.
func (c *Cart) UpdateQuantity(ref uuid.UUID, kind enums.ListingKind, qty int) error {
	idx := c.indexOf(ref, kind)
	if idx < 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
	}
	if qty <= 0 {
		c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	} else {
		c.Items[idx].Quantity = qty
	}
	c.recalculate()
	return nil
}

func (c *Cart) RemoveItem(ref uuid.UUID, kind enums.ListingKind) error {
	idx := c.indexOf(ref, kind)
	if idx < 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	c.recalculate()
	return nil
}

// Clear empties the cart and drops any discount.
func (c *Cart) Clear() {
	c.Items = nil
	c.discountCode = nil
	c.discountAmount = nil
	c.recalculate()
}

// ApplyDiscount stores the discount as an amount; percentages resolve against the
// current subtotal.
func (c *Cart) ApplyDiscount(code string, d Discount) error {
	if code == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "discount code is required")
	}
	var amount decimal.Decimal
	switch {
	case d.Percentage != nil && d.Amount != nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "discount takes a percentage or an amount, not both")
	case d.Percentage != nil:
		pct := *d.Percentage
		if !pct.IsPositive() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return pkgerrors.New(pkgerrors.CodeValidation, "discount percentage must be within (0, 100]")
		}
		amount = c.subtotal.Mul(pct).Div(decimal.NewFromInt(100)).Round(2)
	case d.Amount != nil:
		if !d.Amount.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, "discount amount must be positive")
		}
		amount = d.Amount.Round(2)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "discount percentage or amount is required")
	}
	c.discountCode = &code
	c.discountAmount = &amount
	c.recalculate()
	return nil
}

func (c *Cart) RemoveDiscount() {
	c.discountCode = nil
	c.discountAmount = nil
	c.recalculate()
}

// Sellers lists the distinct sellers in first-seen order.
func (c *Cart) Sellers() []uuid.UUID {
	seen := map[uuid.UUID]struct{}{}
	var out []uuid.UUID
	for _, line := range c.Items {
		if _, ok := seen[line.SellerID]; ok {
			continue
		}
		seen[line.SellerID] = struct{}{}
		out = append(out, line.SellerID)
	}
	return out
}

// recalculate charges flat shipping once per seller, matching the orders checkout
// will split the cart into.
func (c *Cart) recalculate() {
	c.totalItems = len(c.Items)
	c.totalQuantity = 0
	c.subtotal = decimal.Zero
	for _, line := range c.Items {
		c.totalQuantity += line.Quantity
		c.subtotal = c.subtotal.Add(line.Subtotal())
	}
	c.tax = c.pricing.Tax(c.subtotal)
	c.shippingCost = c.pricing.FlatShipping.Mul(decimal.NewFromInt(int64(len(c.Sellers()))))
	c.totalAmount = Total(c.subtotal, c.tax, c.shippingCost, c.DiscountValue())
}
