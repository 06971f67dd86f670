package checkout

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-orders/internal/cart"
	"github.com/angelmondragon/marketplace-orders/internal/catalog"
	"github.com/angelmondragon/marketplace-orders/pkg/enums"
)

// purchaseLine is one resolved line, from a cart or a direct request.
type purchaseLine struct {
	Ref        catalog.Ref
	Name       string
	Price      decimal.Decimal
	Quantity   int
	SellerID   uuid.UUID
	SellerRole enums.SellerRole
}

func (l purchaseLine) subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
}

// sellerGroup becomes exactly one order.
type sellerGroup struct {
	SellerID   uuid.UUID
	SellerRole enums.SellerRole
	Lines      []purchaseLine

	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// groupBySeller keeps sellers in first-seen order regardless of listing kind.
func groupBySeller(lines []purchaseLine) []*sellerGroup {
	index := map[uuid.UUID]*sellerGroup{}
	var groups []*sellerGroup
	for _, line := range lines {
		g, ok := index[line.SellerID]
		if !ok {
			g = &sellerGroup{SellerID: line.SellerID, SellerRole: line.SellerRole}
			index[line.SellerID] = g
			groups = append(groups, g)
		}
		g.Lines = append(g.Lines, line)
	}
	return groups
}

// priceGroups fills every group's totals and splits discount across groups in proportion
// to their subtotals. Shares before the last are rounded down to the cent and the last
// group takes the rest, so every share is non-negative and the shares sum to discount
// exactly.
func priceGroups(groups []*sellerGroup, pricing cart.Pricing, discount decimal.Decimal) {
	total := decimal.Zero
	for _, g := range groups {
		g.Subtotal = decimal.Zero
		for _, line := range g.Lines {
			g.Subtotal = g.Subtotal.Add(line.subtotal())
		}
		total = total.Add(g.Subtotal)
	}

	remaining := discount
	for i, g := range groups {
		switch {
		case !discount.IsPositive() || !total.IsPositive():
			g.Discount = decimal.Zero
		case i == len(groups)-1:
			g.Discount = remaining
		default:
			g.Discount = discount.Mul(g.Subtotal).Div(total).RoundDown(2)
			remaining = remaining.Sub(g.Discount)
		}
		g.Tax = pricing.Tax(g.Subtotal)
		g.Shipping = pricing.FlatShipping.Round(2)
		g.Total = cart.Total(g.Subtotal, g.Tax, g.Shipping, g.Discount)
	}
}
