// Package fulfillment reconciles payment gateway events with local stock.
//
// Every effect on an order is guarded twice: the gateway event id is
// recorded once in the idempotency ledger, and every status write goes
// through order.Decide followed by a compare-and-set update. Stock is only
// decremented by a conditional UPDATE, so the database decides who wins the
// last unit. No gateway call is ever made inside a transaction that touches
// stock.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/db"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/idempotency"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/notification"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/order"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/payment"
)

type Outcome string

const (
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeCorrelationMiss Outcome = "correlation_miss"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeAlreadyApplied  Outcome = "already_applied"
	OutcomeAwaitingPayment Outcome = "awaiting_payment"
	OutcomePaymentFailed   Outcome = "payment_failed"
	OutcomePaid            Outcome = "paid"
	OutcomeStockFailed     Outcome = "stock_failed"
	OutcomeFailed          Outcome = "failed"
)

// Recorder receives engine counters. *metrics.Metrics implements it.
type Recorder interface {
	ObserveEvent(outcome string)
	ObserveRefund(result string)
	ObserveNotification(template, result string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveEvent(string)                {}
func (nopRecorder) ObserveRefund(string)               {}
func (nopRecorder) ObserveNotification(string, string) {}

type Deps struct {
	Orders    order.Repository
	Drafts    order.Service
	Inventory inventory.Repository
	Ledger    idempotency.Ledger
	Tx        db.Transactor
	Gateway   payment.Gateway
	Notifier  notification.Dispatcher
	Metrics   Recorder
	BaseURL   string
	Now       func() time.Time
}

type Engine struct {
	orders      order.Repository
	drafts      order.Service
	inventory   inventory.Repository
	ledger      idempotency.Ledger
	tx          db.Transactor
	gateway     payment.Gateway
	notifier    notification.Dispatcher
	metrics     Recorder
	compensator *Compensator
	validate    *validator.Validate
	baseURL     string
	now         func() time.Time
}

func NewEngine(d Deps) *Engine {
	if d.Metrics == nil {
		d.Metrics = nopRecorder{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{
		orders:      d.Orders,
		drafts:      d.Drafts,
		inventory:   d.Inventory,
		ledger:      d.Ledger,
		tx:          d.Tx,
		gateway:     d.Gateway,
		notifier:    d.Notifier,
		metrics:     d.Metrics,
		compensator: NewCompensator(d.Orders, d.Ledger, d.Gateway, d.Metrics, d.Now),
		validate:    NewValidator(),
		baseURL:     strings.TrimRight(d.BaseURL, "/"),
		now:         d.Now,
	}
}

func (e *Engine) Compensator() *Compensator {
	return e.compensator
}

type CheckoutInput struct {
	CustomerID    uuid.NullUUID
	CustomerEmail string
	Cart          cart.Snapshot
}

type CheckoutResult struct {
	Order      *order.Order
	SessionURL string
}

// Checkout creates the pending draft and opens a gateway session for it.
// If the gateway fails the draft stays pending and unlinked; the shopper can
// retry, which creates a fresh draft.
func (e *Engine) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	o, err := e.drafts.CreateDraft(ctx, order.DraftInput{CustomerID: in.CustomerID, Cart: in.Cart})
	if err != nil {
		return nil, err
	}

	sess, err := e.gateway.CreateCheckoutSession(ctx, payment.SessionRequest{
		OrderID:       o.ID,
		Subtotal:      o.Subtotal,
		Shipping:      o.Shipping,
		Currency:      o.Currency,
		SuccessURL:    e.baseURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     e.baseURL + "/orders/" + o.ID.String(),
		CustomerEmail: in.CustomerEmail,
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("engine: gateway session could not be opened")
		return nil, fmt.Errorf("engine: open gateway session for order %s: %w", o.ID, err)
	}

	if err := e.orders.LinkSession(ctx, o.ID, sess.ID); err != nil {
		return nil, fmt.Errorf("engine: link session to order %s: %w", o.ID, err)
	}
	o.GatewaySessionID = &sess.ID

	log.Info().Stringer("order_id", o.ID).Str("session_id", sess.ID).Msg("engine: checkout session opened")
	return &CheckoutResult{Order: o, SessionURL: sess.URL}, nil
}

// HandleEvent applies one verified gateway event. A nil error means the
// gateway can be acknowledged. An error is returned only when the event
// could not be recorded or a store failure interrupted it, so the gateway
// retries.
func (e *Engine) HandleEvent(ctx context.Context, evt payment.Event) (Outcome, error) {
	outcome, err := e.handleEvent(ctx, evt)
	if err != nil {
		e.metrics.ObserveEvent(string(OutcomeFailed))
		return OutcomeFailed, err
	}
	e.metrics.ObserveEvent(string(outcome))
	return outcome, nil
}

func (e *Engine) handleEvent(ctx context.Context, evt payment.Event) (Outcome, error) {
	logger := log.With().Str("event_id", evt.ID).Str("event_type", evt.Type).Str("session_id", evt.SessionID).Logger()

	err := e.ledger.Record(ctx, idempotency.Record{
		EventID:         evt.ID,
		EventType:       evt.Type,
		Kind:            evt.Kind.String(),
		SessionID:       evt.SessionID,
		PaymentIntentID: evt.PaymentIntentID,
		CustomerEmail:   evt.CustomerEmail,
	})
	if errors.Is(err, idempotency.ErrDuplicateEvent) {
		logger.Info().Msg("engine: duplicate gateway event ignored")
		return OutcomeDuplicate, nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("engine: failed to record gateway event")
		return "", fmt.Errorf("engine: record event %s: %w", evt.ID, err)
	}

	if evt.Kind == payment.EventUnknown {
		logger.Debug().Msg("engine: event kind not handled, acknowledged")
		return OutcomeIgnored, nil
	}

	o, err := e.orders.GetBySessionID(ctx, evt.SessionID)
	if errors.Is(err, order.ErrOrderNotFound) {
		logger.Warn().Msg("engine: no order for gateway session, acknowledged without retry")
		return OutcomeCorrelationMiss, nil
	}
	if err != nil {
		return "", fmt.Errorf("engine: lookup order for session %s: %w", evt.SessionID, err)
	}
	logger = logger.With().Stringer("order_id", o.ID).Logger()

	if err := e.ledger.BackfillOrder(ctx, evt.ID, o.ID); err != nil {
		logger.Warn().Err(err).Msg("engine: could not link event to order")
	}

	switch evt.Kind {
	case payment.EventSessionExpired:
		logger.Info().Stringer("status", o.Status).Msg("engine: gateway session expired, draft kept")
		return OutcomeIgnored, nil
	case payment.EventPaymentPending:
		// stock is only taken once the delayed payment settles
		logger.Info().Stringer("status", o.Status).Msg("engine: checkout completed, payment not settled yet")
		return OutcomeAwaitingPayment, nil
	case payment.EventPaymentFailed:
		logger.Warn().Stringer("status", o.Status).Msg("engine: delayed payment failed, order left pending")
		return OutcomePaymentFailed, nil
	case payment.EventPaymentCompleted:
		return e.settle(ctx, o, evt.PaymentIntentID, evt.CustomerEmail)
	default:
		return OutcomeIgnored, nil
	}
}

// settle records what the event says about the payment and, if the order is
// still pending, reserves its stock.
func (e *Engine) settle(ctx context.Context, o *order.Order, paymentIntentID, email string) (Outcome, error) {
	if paymentIntentID != "" {
		if _, err := e.orders.SetPaymentIntent(ctx, o.ID, paymentIntentID); err != nil {
			return "", err
		}
		if o.PaymentIntentID == nil {
			o.PaymentIntentID = &paymentIntentID
		}
	}

	if email != "" {
		set, err := e.orders.SetEmailIfEmpty(ctx, o.ID, email)
		if err != nil {
			log.Warn().Err(err).Stringer("order_id", o.ID).Msg("engine: could not pre-fill order email")
		} else if set {
			o.Email = &email
		}
	}

	transition, err := order.Decide(o.Status, order.StatusPaid)
	if err != nil {
		return "", err
	}
	if transition == order.TransitionNoOp {
		log.Info().Stringer("order_id", o.ID).Stringer("status", o.Status).Msg("engine: order already settled, nothing to do")
		return OutcomeAlreadyApplied, nil
	}

	return e.reserve(ctx, o, email)
}

// Resume re-runs reservation for an order whose completed payment event was
// recorded but never applied. The payment intent and customer email come
// from the ledger row when the interrupted delivery never copied them onto
// the order.
func (e *Engine) Resume(ctx context.Context, orderID uuid.UUID) (Outcome, error) {
	o, err := e.orders.GetByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	email := ""
	if o.Email != nil {
		email = *o.Email
	}

	intent := ""
	if o.PaymentIntentID == nil && o.GatewaySessionID != nil {
		p, err := e.ledger.PaymentForSession(ctx, *o.GatewaySessionID)
		switch {
		case err == nil:
			intent = p.PaymentIntentID
			if email == "" {
				email = p.CustomerEmail
			}
		case errors.Is(err, idempotency.ErrNoPayment):
			log.Warn().Stringer("order_id", o.ID).Msg("engine: no payment instrument in ledger for stalled order")
		default:
			return "", fmt.Errorf("engine: load recorded payment for order %s: %w", o.ID, err)
		}
	}
	return e.settle(ctx, o, intent, email)
}
