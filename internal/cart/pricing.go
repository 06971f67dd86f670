package cart

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-orders/pkg/config"
)

// Pricing carries the rates shared by carts and the orders split from them.
type Pricing struct {
	TaxRate      decimal.Decimal
	FlatShipping decimal.Decimal
}

// DefaultPricing is 10% tax and 50 units of flat shipping per seller.
var DefaultPricing = Pricing{
	TaxRate:      decimal.RequireFromString("0.10"),
	FlatShipping: decimal.NewFromInt(50),
}

func PricingFromConfig(cfg config.CheckoutConfig) Pricing {
	return Pricing{
		TaxRate:      decimal.NewFromFloat(cfg.TaxRate),
		FlatShipping: decimal.NewFromFloat(cfg.FlatShipping),
	}
}

func (p Pricing) Tax(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(p.TaxRate).Round(2)
}

// Total is subtotal+tax+shipping-discount floored at zero.
func Total(subtotal, tax, shipping, discount decimal.Decimal) decimal.Decimal {
	total := subtotal.Add(tax).Add(shipping).Sub(discount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total.Round(2)
}
