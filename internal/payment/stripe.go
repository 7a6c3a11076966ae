package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/pricing"
)

const orderIDMetadataKey = "order_id"

type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string, backends *stripe.Backends) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{api: api}
}

// CreateCheckoutSession sends the subtotal and shipping as two line items so
// the hosted page shows the same breakdown as the order.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req SessionRequest) (Session, error) {
	currency := strings.ToLower(req.Currency)

	lineItems := []*stripe.CheckoutSessionLineItemParams{
		amountLineItem(fmt.Sprintf("Order %s", req.OrderID), currency, pricing.ToCents(req.Subtotal)),
	}
	if req.Shipping.IsPositive() {
		lineItems = append(lineItems, amountLineItem("Shipping", currency, pricing.ToCents(req.Shipping)))
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID.String()),
		LineItems:         lineItems,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{orderIDMetadataKey: req.OrderID.String()},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	params.AddMetadata(orderIDMetadataKey, req.OrderID.String())

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", req.OrderID).Msg("stripe: failed to create checkout session")
		return Session{}, fmt.Errorf("%w: create checkout session: %v", ErrGateway, err)
	}

	return Session{ID: sess.ID, URL: sess.URL}, nil
}

// CreateRefund keys the request on the order id, so a retried refund for the
// same order is collapsed by the provider.
func (g *StripeGateway) CreateRefund(ctx context.Context, req RefundRequest) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentIntentID),
		Amount:        stripe.Int64(pricing.ToCents(req.Amount)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + req.OrderID.String())
	params.AddMetadata(orderIDMetadataKey, req.OrderID.String())

	refund, err := g.api.Refunds.New(params)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", req.OrderID).Str("payment_intent_id", req.PaymentIntentID).Msg("stripe: refund failed")
		return "", fmt.Errorf("%w: create refund: %v", ErrGateway, err)
	}

	return refund.ID, nil
}

func amountLineItem(name, currency string, cents int64) *stripe.CheckoutSessionLineItemParams {
	return &stripe.CheckoutSessionLineItemParams{
		Quantity: stripe.Int64(1),
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(currency),
			UnitAmount: stripe.Int64(cents),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(name),
			},
		},
	}
}
