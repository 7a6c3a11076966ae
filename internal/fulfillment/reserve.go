package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/order"
)

// errStatusMoved aborts a transaction whose compare-and-set lost the race.
var errStatusMoved = errors.New("order status changed concurrently")

// reserve moves a pending order to paid and takes its stock in one
// transaction. A shortage anywhere rolls back the status change together
// with every decrement made so far.
func (e *Engine) reserve(ctx context.Context, o *order.Order, email string) (Outcome, error) {
	items := make([]inventory.Item, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, inventory.Item{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := e.orders.CompareAndSetStatus(ctx, o.ID, order.StatusPending, order.StatusPaid)
		if err != nil {
			return err
		}
		if !ok {
			return errStatusMoved
		}
		return e.inventory.Reserve(ctx, items)
	})

	switch {
	case err == nil:
		o.Status = order.StatusPaid
		log.Info().Stringer("order_id", o.ID).Int("lines", len(items)).Msg("engine: stock reserved, order paid")
		e.notifyPaymentConfirmed(ctx, o, email)
		return OutcomePaid, nil

	case errors.Is(err, errStatusMoved):
		return e.redecide(ctx, o, order.StatusPaid)

	case errors.Is(err, inventory.ErrInsufficientStock):
		log.Warn().Err(err).Stringer("order_id", o.ID).Msg("engine: stock insufficient, compensating")
		return e.failStock(ctx, o, email)

	default:
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("engine: reservation transaction failed")
		return "", fmt.Errorf("engine: reserve stock for order %s: %w", o.ID, err)
	}
}

// failStock records stock_failed in its own transaction, then refunds
// outside of it.
func (e *Engine) failStock(ctx context.Context, o *order.Order, email string) (Outcome, error) {
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := e.orders.CompareAndSetStatus(ctx, o.ID, order.StatusPending, order.StatusStockFailed)
		if err != nil {
			return err
		}
		if !ok {
			return errStatusMoved
		}
		return nil
	})
	if errors.Is(err, errStatusMoved) {
		return e.redecide(ctx, o, order.StatusStockFailed)
	}
	if err != nil {
		return "", fmt.Errorf("engine: mark order %s stock_failed: %w", o.ID, err)
	}
	o.Status = order.StatusStockFailed

	result, err := e.compensator.Compensate(ctx, o.ID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("engine: refund failed, left for manual reconciliation")
	}

	e.notifyStockFailure(ctx, o, email, result)
	return OutcomeStockFailed, nil
}

// redecide re-reads the order after a lost compare-and-set and checks the
// transition against the fresh status.
func (e *Engine) redecide(ctx context.Context, o *order.Order, target order.Status) (Outcome, error) {
	fresh, err := e.orders.GetByID(ctx, o.ID)
	if err != nil {
		return "", err
	}
	transition, err := order.Decide(fresh.Status, target)
	if errors.Is(err, order.ErrIllegalTransition) {
		// e.g. a concurrent delivery got the stock and moved the order to paid
		log.Warn().Stringer("order_id", o.ID).Stringer("status", fresh.Status).Stringer("target", target).Msg("engine: order moved elsewhere by another delivery")
		return OutcomeAlreadyApplied, nil
	}
	if err != nil {
		return "", err
	}
	if transition == order.TransitionNoOp {
		log.Info().Stringer("order_id", o.ID).Stringer("status", fresh.Status).Msg("engine: lost status race, another delivery settled the order")
		return OutcomeAlreadyApplied, nil
	}
	return "", fmt.Errorf("engine: order %s still %s: %w", o.ID, fresh.Status, errStatusMoved)
}
