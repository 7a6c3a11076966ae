package payment

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

type StripeVerifier struct {
	secret string
}

func NewStripeVerifier(webhookSecret string) *StripeVerifier {
	return &StripeVerifier{secret: webhookSecret}
}

// Verify checks the Stripe-Signature header against the endpoint secret and
// decodes checkout session events. Other event types come back with only
// ID, Type and Kind set. A completed session whose payment status is not
// settled comes back as EventPaymentPending.
func (v *StripeVerifier) Verify(payload []byte, signature string) (Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Event{
		ID:   evt.ID,
		Type: string(evt.Type),
		Kind: KindOf(string(evt.Type)),
	}
	if out.Kind == EventUnknown || evt.Data == nil {
		return out, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
		return Event{}, fmt.Errorf("%w: decode checkout session: %v", ErrMalformedEvent, err)
	}

	out.Kind = SessionKind(out.Type, sess.PaymentStatus)
	out.SessionID = sess.ID
	if sess.PaymentIntent != nil {
		out.PaymentIntentID = sess.PaymentIntent.ID
	}
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		out.CustomerEmail = sess.CustomerDetails.Email
	} else {
		out.CustomerEmail = sess.CustomerEmail
	}

	return out, nil
}
