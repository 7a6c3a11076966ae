// Package cart holds the checkout-time view of a shopper's cart. The cart
// itself lives outside this service; it hands a Snapshot to checkout and the
// engine never writes back to it.
package cart

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart   = errors.New("cart is empty")
	ErrInvalidLine = errors.New("invalid cart line")
)

type Line struct {
	ProductID int64           `json:"product_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// Snapshot is an ordered, immutable copy of the cart taken at checkout.
type Snapshot struct {
	Lines []Line `json:"lines"`
}

func NewSnapshot(lines ...Line) Snapshot {
	frozen := make([]Line, len(lines))
	copy(frozen, lines)
	return Snapshot{Lines: frozen}
}

func (s Snapshot) Validate() error {
	if len(s.Lines) == 0 {
		return ErrEmptyCart
	}
	for i, l := range s.Lines {
		if l.ProductID <= 0 {
			return fmt.Errorf("%w: line %d has no product id", ErrInvalidLine, i)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: line %d quantity for product %d must be greater than zero", ErrInvalidLine, i, l.ProductID)
		}
		if l.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: line %d unit price for product %d cannot be negative", ErrInvalidLine, i, l.ProductID)
		}
	}
	return nil
}
