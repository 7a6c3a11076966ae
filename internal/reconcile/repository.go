package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/idempotency"
)

type Candidate struct {
	ID              uuid.UUID       `db:"id"`
	Status          string          `db:"status"`
	Total           decimal.Decimal `db:"total"`
	PaymentIntentID *string         `db:"payment_intent_id"`
	SessionID       *string         `db:"gateway_session_id"`
	CreatedAt       time.Time       `db:"created_at"`
}

type Repository interface {
	UnrefundedStockFailures(ctx context.Context) ([]Candidate, error)
	StalledPayments(ctx context.Context) ([]Candidate, error)
}

type sqlxRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &sqlxRepository{db: db}
}

// UnrefundedStockFailures lists orders that lost their stock but whose
// refund never got recorded.
func (r *sqlxRepository) UnrefundedStockFailures(ctx context.Context) ([]Candidate, error) {
	query := `
		SELECT id, status, total, payment_intent_id, gateway_session_id, created_at
		FROM orders
		WHERE status = 'stock_failed' AND NOT refund_issued
		ORDER BY created_at
	`
	var out []Candidate
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("reconcile: failed to list unrefunded stock failures: %w", err)
	}
	return out, nil
}

// StalledPayments lists pending orders for which a settled payment event
// was recorded, meaning the event was deduplicated but never applied.
// Checkouts still waiting on a delayed payment are not listed.
func (r *sqlxRepository) StalledPayments(ctx context.Context) ([]Candidate, error) {
	query := `
		SELECT o.id, o.status, o.total, o.payment_intent_id, o.gateway_session_id, o.created_at
		FROM orders o
		WHERE o.status = 'pending'
		  AND EXISTS (
			SELECT 1 FROM gateway_events g
			WHERE g.session_id = o.gateway_session_id
			  AND g.kind = $1
		  )
		ORDER BY o.created_at
	`
	var out []Candidate
	if err := r.db.SelectContext(ctx, &out, query, idempotency.KindPaymentCompleted); err != nil {
		return nil, fmt.Errorf("reconcile: failed to list stalled payments: %w", err)
	}
	return out, nil
}
