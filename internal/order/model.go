package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusPaid        Status = "paid"
	StatusCompleted   Status = "completed"
	StatusStockFailed Status = "stock_failed"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStockFailed
}

type Line struct {
	ID        int64           `json:"id"`
	OrderID   uuid.UUID       `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Order is never deleted. Contact and address fields stay nil until the
// completion step, except Email which a payment event may pre-fill.
type Order struct {
	ID         uuid.UUID     `json:"id"`
	CustomerID uuid.NullUUID `json:"customer_id"`

	Email              *string `json:"email,omitempty"`
	FirstName          *string `json:"first_name,omitempty"`
	LastName           *string `json:"last_name,omitempty"`
	Phone              *string `json:"phone,omitempty"`
	ShippingAddress    *string `json:"shipping_address,omitempty"`
	ShippingPostalCode *string `json:"shipping_postal_code,omitempty"`
	ShippingCity       *string `json:"shipping_city,omitempty"`
	BillingAddress     *string `json:"billing_address,omitempty"`
	BillingPostalCode  *string `json:"billing_postal_code,omitempty"`
	BillingCity        *string `json:"billing_city,omitempty"`

	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`

	GatewaySessionID *string `json:"gateway_session_id,omitempty"`
	PaymentIntentID  *string `json:"payment_intent_id,omitempty"`
	Status           Status  `json:"status"`

	RefundIssued bool       `json:"refund_issued"`
	RefundID     *string    `json:"refund_id,omitempty"`
	RefundedAt   *time.Time `json:"refunded_at,omitempty"`

	PaymentEmailSent      bool       `json:"payment_email_sent"`
	PaymentEmailSentAt    *time.Time `json:"payment_email_sent_at,omitempty"`
	CompletionEmailSent   bool       `json:"completion_email_sent"`
	CompletionEmailSentAt *time.Time `json:"completion_email_sent_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Lines []Line `json:"lines"`
}

// Contact holds what the shopper submits after payment. Billing fields are
// nil when billing matches shipping.
type Contact struct {
	FirstName          string
	LastName           string
	Email              string
	Phone              *string
	ShippingAddress    string
	ShippingPostalCode string
	ShippingCity       string
	BillingAddress     *string
	BillingPostalCode  *string
	BillingCity        *string
}
