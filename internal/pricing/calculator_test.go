package pricing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/pricing"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newCalculator() *pricing.Calculator {
	return pricing.NewCalculator(d("9.90"), d("100.00"))
}

func TestCalculator_Quote(t *testing.T) {
	tests := []struct {
		name         string
		lines        []cart.Line
		wantSubtotal string
		wantShipping string
		wantTotal    string
	}{
		{
			name:         "two_units_below_threshold",
			lines:        []cart.Line{{ProductID: 1, UnitPrice: d("15.00"), Quantity: 2}},
			wantSubtotal: "30.00",
			wantShipping: "9.90",
			wantTotal:    "39.90",
		},
		{
			name:         "exactly_at_threshold_ships_free",
			lines:        []cart.Line{{ProductID: 1, UnitPrice: d("50.00"), Quantity: 2}},
			wantSubtotal: "100.00",
			wantShipping: "0.00",
			wantTotal:    "100.00",
		},
		{
			name:         "one_cent_below_threshold",
			lines:        []cart.Line{{ProductID: 1, UnitPrice: d("99.99"), Quantity: 1}},
			wantSubtotal: "99.99",
			wantShipping: "9.90",
			wantTotal:    "109.89",
		},
		{
			name: "several_lines",
			lines: []cart.Line{
				{ProductID: 3, UnitPrice: d("12.35"), Quantity: 3},
				{ProductID: 1, UnitPrice: d("4.10"), Quantity: 1},
			},
			wantSubtotal: "41.15",
			wantShipping: "9.90",
			wantTotal:    "51.05",
		},
		{
			name:         "half_cent_rounds_up",
			lines:        []cart.Line{{ProductID: 1, UnitPrice: d("0.125"), Quantity: 1}},
			wantSubtotal: "0.13",
			wantShipping: "9.90",
			wantTotal:    "10.03",
		},
		{
			name:         "free_item",
			lines:        []cart.Line{{ProductID: 1, UnitPrice: d("0"), Quantity: 1}},
			wantSubtotal: "0.00",
			wantShipping: "9.90",
			wantTotal:    "9.90",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := newCalculator().Quote(cart.NewSnapshot(tt.lines...))
			require.NoError(t, err)

			assert.Equal(t, tt.wantSubtotal, q.Subtotal.StringFixed(2))
			assert.Equal(t, tt.wantShipping, q.Shipping.StringFixed(2))
			assert.Equal(t, tt.wantTotal, q.Total.StringFixed(2))
			assert.True(t, q.Total.Equal(q.Subtotal.Add(q.Shipping)), "total must equal subtotal + shipping")
		})
	}
}

func TestCalculator_Quote_Errors(t *testing.T) {
	tests := []struct {
		name    string
		lines   []cart.Line
		wantErr error
	}{
		{name: "empty_cart", lines: nil, wantErr: cart.ErrEmptyCart},
		{name: "zero_quantity", lines: []cart.Line{{ProductID: 1, UnitPrice: d("1"), Quantity: 0}}, wantErr: cart.ErrInvalidLine},
		{name: "negative_price", lines: []cart.Line{{ProductID: 1, UnitPrice: d("-1"), Quantity: 1}}, wantErr: cart.ErrInvalidLine},
		{name: "missing_product", lines: []cart.Line{{UnitPrice: d("1"), Quantity: 1}}, wantErr: cart.ErrInvalidLine},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newCalculator().Quote(cart.NewSnapshot(tt.lines...))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestToCents(t *testing.T) {
	assert.Equal(t, int64(3990), pricing.ToCents(d("39.90")))
	assert.Equal(t, int64(13), pricing.ToCents(d("0.125")))
	assert.Equal(t, int64(0), pricing.ToCents(decimal.Zero))
}
