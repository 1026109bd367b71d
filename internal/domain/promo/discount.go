package promo

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Apply computes the discount of c for an order amount and delivery fee.
// Eligibility is not checked here; see Validator.
func Apply(c *Code, amount, deliveryFee decimal.Decimal) (decimal.Decimal, error) {
	var raw decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		raw = amount.Mul(c.Value).Div(hundred)
	case DiscountFixed:
		raw = c.Value
	case DiscountFreeDelivery:
		raw = deliveryFee
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}

	// A code never takes more than the order amount it was given.
	if c.DiscountType != DiscountFreeDelivery {
		raw = decimal.Min(raw, amount)
	}
	if c.MaxDiscountAmount != nil {
		raw = decimal.Min(raw, *c.MaxDiscountAmount)
	}
	if raw.IsNegative() {
		raw = decimal.Zero
	}
	return raw.Round(2), nil
}
