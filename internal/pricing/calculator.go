package pricing

import (
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/cart"
)

const scale = 2

type Quote struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// Calculator prices a cart snapshot with a flat shipping fee that is waived
// once the subtotal reaches FreeShippingThreshold.
type Calculator struct {
	ShippingFee           decimal.Decimal
	FreeShippingThreshold decimal.Decimal
}

func NewCalculator(shippingFee, freeShippingThreshold decimal.Decimal) *Calculator {
	return &Calculator{
		ShippingFee:           shippingFee,
		FreeShippingThreshold: freeShippingThreshold,
	}
}

func (c *Calculator) Quote(snapshot cart.Snapshot) (Quote, error) {
	if err := snapshot.Validate(); err != nil {
		return Quote{}, err
	}

	subtotal := decimal.Zero
	for _, line := range snapshot.Lines {
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	subtotal = Round(subtotal)

	shipping := c.Shipping(subtotal)

	return Quote{
		Subtotal: subtotal,
		Shipping: shipping,
		Total:    Round(subtotal.Add(shipping)),
	}, nil
}

func (c *Calculator) Shipping(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(c.FreeShippingThreshold) {
		return decimal.Zero
	}
	return Round(c.ShippingFee)
}

// Round rounds half away from zero to cents, which is half-up for the
// non-negative amounts handled here.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(scale)
}

// ToCents converts a rounded amount to the gateway's minor units.
func ToCents(d decimal.Decimal) int64 {
	return Round(d).Shift(scale).IntPart()
}
