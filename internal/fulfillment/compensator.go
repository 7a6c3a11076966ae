package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/idempotency"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/order"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/payment"
)

type CompensationResult string

const (
	CompensationRefunded        CompensationResult = "refunded"
	CompensationAlreadyRefunded CompensationResult = "already_refunded"
	CompensationNoInstrument    CompensationResult = "no_payment_instrument"
	CompensationFailed          CompensationResult = "failed"
)

// Compensator refunds orders whose payment succeeded but whose stock could
// not be taken. There is no automatic retry; failed refunds are picked up by
// the reconcile command.
type Compensator struct {
	orders  order.Repository
	ledger  idempotency.Ledger
	gateway payment.Gateway
	metrics Recorder
	now     func() time.Time
}

func NewCompensator(orders order.Repository, ledger idempotency.Ledger, gateway payment.Gateway, metrics Recorder, now func() time.Time) *Compensator {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if now == nil {
		now = time.Now
	}
	return &Compensator{orders: orders, ledger: ledger, gateway: gateway, metrics: metrics, now: now}
}

func (c *Compensator) Compensate(ctx context.Context, orderID uuid.UUID) (CompensationResult, error) {
	o, err := c.orders.GetByID(ctx, orderID)
	if err != nil {
		return CompensationFailed, fmt.Errorf("compensator: load order %s: %w", orderID, err)
	}

	if o.RefundIssued {
		log.Info().Stringer("order_id", orderID).Msg("compensator: refund already issued")
		c.metrics.ObserveRefund(string(CompensationAlreadyRefunded))
		return CompensationAlreadyRefunded, nil
	}

	intent, err := c.paymentIntent(ctx, o)
	if err != nil {
		c.metrics.ObserveRefund(string(CompensationFailed))
		return CompensationFailed, err
	}
	if intent == "" {
		log.Warn().Stringer("order_id", orderID).Msg("compensator: no payment instrument recorded, nothing to refund")
		c.metrics.ObserveRefund(string(CompensationNoInstrument))
		return CompensationNoInstrument, nil
	}

	refundID, err := c.gateway.CreateRefund(ctx, payment.RefundRequest{
		OrderID:         o.ID,
		PaymentIntentID: intent,
		Amount:          o.Total,
		Currency:        o.Currency,
	})
	if err != nil {
		c.metrics.ObserveRefund(string(CompensationFailed))
		return CompensationFailed, fmt.Errorf("compensator: refund order %s: %w", orderID, err)
	}

	recorded, err := c.orders.MarkRefunded(ctx, o.ID, refundID, c.now().UTC())
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Str("refund_id", refundID).Msg("compensator: refund issued but not recorded")
		c.metrics.ObserveRefund(string(CompensationFailed))
		return CompensationFailed, err
	}
	if !recorded {
		log.Warn().Stringer("order_id", orderID).Str("refund_id", refundID).Msg("compensator: another writer recorded the refund first")
		c.metrics.ObserveRefund(string(CompensationAlreadyRefunded))
		return CompensationAlreadyRefunded, nil
	}

	log.Info().Stringer("order_id", orderID).Str("refund_id", refundID).Stringer("amount", o.Total).Msg("compensator: refund issued")
	c.metrics.ObserveRefund(string(CompensationRefunded))
	return CompensationRefunded, nil
}

// paymentIntent returns the order's payment intent, falling back to the
// ledger row of its settled event. A ledger hit is copied onto the order.
func (c *Compensator) paymentIntent(ctx context.Context, o *order.Order) (string, error) {
	if o.PaymentIntentID != nil && *o.PaymentIntentID != "" {
		return *o.PaymentIntentID, nil
	}
	if c.ledger == nil || o.GatewaySessionID == nil {
		return "", nil
	}

	p, err := c.ledger.PaymentForSession(ctx, *o.GatewaySessionID)
	if errors.Is(err, idempotency.ErrNoPayment) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("compensator: load recorded payment for order %s: %w", o.ID, err)
	}

	if _, err := c.orders.SetPaymentIntent(ctx, o.ID, p.PaymentIntentID); err != nil {
		log.Warn().Err(err).Stringer("order_id", o.ID).Msg("compensator: could not copy payment intent onto order")
	}
	log.Info().Stringer("order_id", o.ID).Str("event_id", p.EventID).Msg("compensator: payment intent recovered from ledger")
	return p.PaymentIntentID, nil
}
