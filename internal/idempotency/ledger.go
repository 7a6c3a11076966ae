// Package idempotency records every gateway event id it has seen. The first
// insert of an id wins; later deliveries of the same id are duplicates.
//
// The row also keeps what the event said about the payment, so an order
// whose processing was interrupted after the insert can still find its
// payment instrument.
package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/db"
)

var (
	ErrDuplicateEvent = errors.New("gateway event already recorded")
	ErrNoPayment      = errors.New("no settled payment recorded for session")
)

// KindPaymentCompleted is the stored kind of events that settle a payment.
const KindPaymentCompleted = "payment_completed"

type Record struct {
	EventID         string
	EventType       string
	Kind            string
	SessionID       string
	PaymentIntentID string
	CustomerEmail   string
}

// Payment is the payment instrument a settled event carried.
type Payment struct {
	EventID         string
	PaymentIntentID string
	CustomerEmail   string
}

type Ledger interface {
	// Record must run outside any caller transaction so the row is
	// committed before stock is touched.
	Record(ctx context.Context, rec Record) error
	BackfillOrder(ctx context.Context, eventID string, orderID uuid.UUID) error
	// PaymentForSession returns the earliest settled payment event of the
	// session that carries a payment intent.
	PaymentForSession(ctx context.Context, sessionID string) (Payment, error)
}

type postgresLedger struct {
	db db.Querier
}

func NewLedger(pool db.Querier) Ledger {
	return &postgresLedger{db: pool}
}

func (l *postgresLedger) Record(ctx context.Context, rec Record) error {
	kind := rec.Kind
	if kind == "" {
		kind = "unknown"
	}
	query := `
		INSERT INTO gateway_events (event_id, event_type, kind, session_id, payment_intent_id, customer_email)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''))
	`
	if _, err := l.db.Exec(ctx, query, rec.EventID, rec.EventType, kind, rec.SessionID, rec.PaymentIntentID, rec.CustomerEmail); err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("ledger: failed to record event %s: %w", rec.EventID, err)
	}
	return nil
}

func (l *postgresLedger) BackfillOrder(ctx context.Context, eventID string, orderID uuid.UUID) error {
	query := `
		UPDATE gateway_events
		SET order_id = $1
		WHERE event_id = $2 AND order_id IS NULL
	`
	tag, err := l.db.Exec(ctx, query, orderID, eventID)
	if err != nil {
		return fmt.Errorf("ledger: failed to backfill order for event %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		log.Debug().Str("event_id", eventID).Stringer("order_id", orderID).Msg("ledger: event already linked to an order")
	}
	return nil
}

func (l *postgresLedger) PaymentForSession(ctx context.Context, sessionID string) (Payment, error) {
	query := `
		SELECT event_id, payment_intent_id, COALESCE(customer_email, '')
		FROM gateway_events
		WHERE session_id = $1 AND kind = $2 AND payment_intent_id IS NOT NULL
		ORDER BY received_at, event_id
		LIMIT 1
	`
	var p Payment
	err := l.db.QueryRow(ctx, query, sessionID, KindPaymentCompleted).Scan(&p.EventID, &p.PaymentIntentID, &p.CustomerEmail)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNoPayment
	}
	if err != nil {
		return Payment{}, fmt.Errorf("ledger: failed to load payment for session %s: %w", sessionID, err)
	}
	return p, nil
}
