package order

import (
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/shopsy-backend/internal/config"
)

// PriceLine is one (effective unit price, quantity) pair fed to PriceCart.
type PriceLine struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type Totals struct {
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal
}

// PriceCart computes order totals from line items and an externally
// validated discount amount. Pure function: no I/O, identical inputs yield
// identical outputs. All arithmetic is decimal, rounded half-up to two
// places.
//
// Shipping is free once the subtotal reaches the threshold, inclusive. The
// grand total is clamped at zero so a discount larger than the rest of the
// bill never produces a negative charge.
func PriceCart(lines []PriceLine, discountAmount decimal.Decimal, cfg config.Pricing) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	subtotal = subtotal.Round(2)

	tax := subtotal.Mul(cfg.TaxRate).Round(2)

	shipping := cfg.FlatShippingFee
	if subtotal.GreaterThanOrEqual(cfg.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	discount := discountAmount.Round(2)

	total := subtotal.Add(tax).Add(shipping).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Totals{
		Subtotal:       subtotal,
		TaxAmount:      tax,
		ShippingAmount: shipping,
		DiscountAmount: discount,
		TotalAmount:    total,
	}
}
