package payment

import "github.com/stripe/stripe-go/v76"

type EventKind int

const (
	EventUnknown EventKind = iota
	// EventPaymentCompleted means the money has arrived and the order can
	// take its stock.
	EventPaymentCompleted
	// EventPaymentPending is a completed checkout whose asynchronous payment
	// method has not settled yet.
	EventPaymentPending
	EventPaymentFailed
	EventSessionExpired
)

func (k EventKind) String() string {
	switch k {
	case EventPaymentCompleted:
		return "payment_completed"
	case EventPaymentPending:
		return "payment_pending"
	case EventPaymentFailed:
		return "payment_failed"
	case EventSessionExpired:
		return "session_expired"
	default:
		return "unknown"
	}
}

// KindOf maps a gateway event type to the closed set of kinds the engine
// acts on. Anything unrecognized is EventUnknown and gets acknowledged.
// A completed checkout is only EventPaymentCompleted once its payment
// status says so; see SessionKind.
func KindOf(eventType string) EventKind {
	switch eventType {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return EventPaymentCompleted
	case "checkout.session.async_payment_failed":
		return EventPaymentFailed
	case "checkout.session.expired":
		return EventSessionExpired
	default:
		return EventUnknown
	}
}

// SessionKind refines KindOf with the session's payment status. Delayed
// methods complete the checkout with status "unpaid" and settle later with
// async_payment_succeeded or async_payment_failed.
func SessionKind(eventType string, paymentStatus stripe.CheckoutSessionPaymentStatus) EventKind {
	kind := KindOf(eventType)
	if kind != EventPaymentCompleted {
		return kind
	}
	switch paymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return EventPaymentCompleted
	default:
		return EventPaymentPending
	}
}

// Event is a verified gateway notification reduced to what the engine needs.
type Event struct {
	ID              string
	Type            string
	Kind            EventKind
	SessionID       string
	PaymentIntentID string
	CustomerEmail   string
}
