package fulfillment

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/notification"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/order"
)

// Notification failures are logged and counted, never returned: the order
// effect they describe has already committed.

func (e *Engine) notifyPaymentConfirmed(ctx context.Context, o *order.Order, email string) {
	recipient := recipientFor(o, email)
	if recipient == "" {
		log.Warn().Stringer("order_id", o.ID).Msg("engine: no customer email, payment confirmation not sent")
		return
	}
	if o.PaymentEmailSent {
		log.Info().Stringer("order_id", o.ID).Msg("engine: payment confirmation already sent")
		return
	}

	msg := notification.PaymentConfirmed(o.ID, o.Total, o.Currency, e.shippingFormURL(o), recipient)
	if !e.send(ctx, o, "payment_confirmed", msg) {
		return
	}

	if _, err := e.orders.MarkPaymentEmailSent(ctx, o.ID, e.now().UTC()); err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("engine: payment confirmation sent but flag not saved")
		return
	}
	o.PaymentEmailSent = true
}

// notifyStockFailure only tells the customer the refund went out when the
// gateway confirmed it; otherwise the notice says the refund is pending.
func (e *Engine) notifyStockFailure(ctx context.Context, o *order.Order, email string, result CompensationResult) {
	recipient := recipientFor(o, email)
	if recipient == "" {
		log.Warn().Stringer("order_id", o.ID).Msg("engine: no customer email, refund notice not sent")
		return
	}
	switch result {
	case CompensationRefunded, CompensationAlreadyRefunded:
		e.send(ctx, o, "stock_failure_refund", notification.StockFailureRefund(o.ID, recipient))
	default:
		e.send(ctx, o, "stock_failure_refund_pending", notification.StockFailureRefundPending(o.ID, recipient))
	}
}

func (e *Engine) notifyInformationReceived(ctx context.Context, o *order.Order, c order.Contact) {
	if o.CompletionEmailSent {
		log.Info().Stringer("order_id", o.ID).Msg("engine: completion email already sent")
		return
	}

	msg := notification.InformationReceived(o.ID, o.Total, o.Currency, notification.Address{
		FirstName:  c.FirstName,
		Address:    c.ShippingAddress,
		PostalCode: c.ShippingPostalCode,
		City:       c.ShippingCity,
	}, c.Email)
	if !e.send(ctx, o, "information_received", msg) {
		return
	}

	if _, err := e.orders.MarkCompletionEmailSent(ctx, o.ID, e.now().UTC()); err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("engine: completion email sent but flag not saved")
		return
	}
	o.CompletionEmailSent = true
}

func (e *Engine) send(ctx context.Context, o *order.Order, template string, msg notification.Message) bool {
	if err := e.notifier.Send(ctx, msg); err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Str("template", template).Msg("engine: notification failed")
		e.metrics.ObserveNotification(template, "failed")
		return false
	}
	log.Info().Stringer("order_id", o.ID).Str("template", template).Strs("recipients", msg.Recipients).Msg("engine: notification sent")
	e.metrics.ObserveNotification(template, "sent")
	return true
}

func (e *Engine) shippingFormURL(o *order.Order) string {
	return ShippingFormURL(e.baseURL, o)
}

// ShippingFormURL links the shipping form of an order. The checkout session
// id in the query is what authorizes the submission.
func ShippingFormURL(baseURL string, o *order.Order) string {
	u := strings.TrimRight(baseURL, "/") + "/orders/" + o.ID.String() + "/shipping"
	if o.GatewaySessionID != nil {
		u += "?session_id=" + url.QueryEscape(*o.GatewaySessionID)
	}
	return u
}

func recipientFor(o *order.Order, email string) string {
	if email != "" {
		return email
	}
	if o.Email != nil {
		return *o.Email
	}
	return ""
}
