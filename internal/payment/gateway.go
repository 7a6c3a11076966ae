package payment

import (
	"context"
	"errors"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrGateway          = errors.New("payment gateway error")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

type SessionRequest struct {
	OrderID       uuid.UUID
	Subtotal      decimal.Decimal
	Shipping      decimal.Decimal
	Currency      string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
}

type Session struct {
	ID  string
	URL string
}

type RefundRequest struct {
	OrderID         uuid.UUID
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
}

// Gateway is the outbound side of the payment provider. Implementations
// wrap provider failures in ErrGateway.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (Session, error)
	CreateRefund(ctx context.Context, req RefundRequest) (string, error)
}

// Verifier authenticates an inbound webhook body and decodes it.
type Verifier interface {
	Verify(payload []byte, signature string) (Event, error)
}
