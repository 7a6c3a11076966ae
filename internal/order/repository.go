package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/db"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrSessionAlreadyLinked = errors.New("order already linked to a gateway session")
)

type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Order, error)
	LinkSession(ctx context.Context, id uuid.UUID, sessionID string) error
	SetPaymentIntent(ctx context.Context, id uuid.UUID, paymentIntentID string) (bool, error)
	SetEmailIfEmpty(ctx context.Context, id uuid.UUID, email string) (bool, error)
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next Status) (bool, error)
	SaveContact(ctx context.Context, id uuid.UUID, c Contact) error
	MarkRefunded(ctx context.Context, id uuid.UUID, refundID string, at time.Time) (bool, error)
	MarkPaymentEmailSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkCompletionEmailSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

type postgresRepository struct {
	db db.Querier
}

func NewRepository(pool db.Querier) Repository {
	return &postgresRepository{db: pool}
}

const orderColumns = `
	id, customer_id, email, first_name, last_name, phone,
	shipping_address, shipping_postal_code, shipping_city,
	billing_address, billing_postal_code, billing_city,
	subtotal, shipping, total, currency,
	gateway_session_id, payment_intent_id, status,
	refund_issued, refund_id, refunded_at,
	payment_email_sent, payment_email_sent_at,
	completion_email_sent, completion_email_sent_at,
	created_at, updated_at`

// Create inserts the order and its lines. Callers run it inside db.Transactor
// so both land or neither does.
func (r *postgresRepository) Create(ctx context.Context, o *Order) error {
	q := db.Conn(ctx, r.db)

	if o.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order id: %w", err)
		}
		o.ID = id
	}

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	queryOrder := `
		INSERT INTO orders (id, customer_id, subtotal, shipping, total, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := q.Exec(ctx, queryOrder,
		o.ID,
		o.CustomerID,
		o.Subtotal,
		o.Shipping,
		o.Total,
		o.Currency,
		string(o.Status),
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	queryLine := `
		INSERT INTO order_lines (order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	for i := range o.Lines {
		line := &o.Lines[i]
		line.OrderID = o.ID
		err = q.QueryRow(ctx, queryLine, o.ID, line.ProductID, line.Quantity, line.UnitPrice).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order line for order %s: %w", o.ID, err)
		}
	}

	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *postgresRepository) GetBySessionID(ctx context.Context, sessionID string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE gateway_session_id = $1`
	return r.getOne(ctx, query, sessionID)
}

func (r *postgresRepository) getOne(ctx context.Context, query string, arg any) (*Order, error) {
	q := db.Conn(ctx, r.db)

	o, err := scanOrder(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by %v: %w", arg, err)
	}

	lines, err := r.lines(ctx, q, o.ID)
	if err != nil {
		return nil, err
	}
	o.Lines = lines

	return o, nil
}

func (r *postgresRepository) lines(ctx context.Context, q db.Querier, orderID uuid.UUID) ([]Line, error) {
	query := `
		SELECT id, order_id, product_id, quantity, unit_price
		FROM order_lines
		WHERE order_id = $1
		ORDER BY id
	`
	rows, err := q.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query lines for order %s: %w", orderID, err)
	}
	defer rows.Close()

	lines := make([]Line, 0)
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, fmt.Errorf("repository: failed to scan line for order %s: %w", orderID, err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating lines for order %s: %w", orderID, err)
	}

	return lines, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status string
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.Email, &o.FirstName, &o.LastName, &o.Phone,
		&o.ShippingAddress, &o.ShippingPostalCode, &o.ShippingCity,
		&o.BillingAddress, &o.BillingPostalCode, &o.BillingCity,
		&o.Subtotal, &o.Shipping, &o.Total, &o.Currency,
		&o.GatewaySessionID, &o.PaymentIntentID, &status,
		&o.RefundIssued, &o.RefundID, &o.RefundedAt,
		&o.PaymentEmailSent, &o.PaymentEmailSentAt,
		&o.CompletionEmailSent, &o.CompletionEmailSentAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	return &o, nil
}

// LinkSession records the gateway session id. It is written at most once.
func (r *postgresRepository) LinkSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	query := `
		UPDATE orders
		SET gateway_session_id = $1, updated_at = now()
		WHERE id = $2 AND gateway_session_id IS NULL
	`
	tag, err := db.Conn(ctx, r.db).Exec(ctx, query, sessionID, id)
	if err != nil {
		return fmt.Errorf("repository: failed to link session to order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		log.Warn().Stringer("order_id", id).Str("session_id", sessionID).Msg("repository: order already has a gateway session")
		return ErrSessionAlreadyLinked
	}
	return nil
}

func (r *postgresRepository) SetPaymentIntent(ctx context.Context, id uuid.UUID, paymentIntentID string) (bool, error) {
	query := `
		UPDATE orders
		SET payment_intent_id = $1, updated_at = now()
		WHERE id = $2 AND payment_intent_id IS NULL
	`
	return r.execOne(ctx, "set payment intent", id, query, paymentIntentID, id)
}

func (r *postgresRepository) SetEmailIfEmpty(ctx context.Context, id uuid.UUID, email string) (bool, error) {
	query := `
		UPDATE orders
		SET email = $1, updated_at = now()
		WHERE id = $2 AND (email IS NULL OR email = '')
	`
	return r.execOne(ctx, "set email", id, query, email, id)
}

// CompareAndSetStatus moves the order only if it still has the expected
// status. A false result means another writer got there first.
func (r *postgresRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next Status) (bool, error) {
	query := `
		UPDATE orders
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`
	return r.execOne(ctx, "update status", id, query, string(next), id, string(expected))
}

func (r *postgresRepository) SaveContact(ctx context.Context, id uuid.UUID, c Contact) error {
	query := `
		UPDATE orders
		SET first_name = $1, last_name = $2, email = $3, phone = $4,
			shipping_address = $5, shipping_postal_code = $6, shipping_city = $7,
			billing_address = $8, billing_postal_code = $9, billing_city = $10,
			updated_at = now()
		WHERE id = $11
	`
	tag, err := db.Conn(ctx, r.db).Exec(ctx, query,
		c.FirstName, c.LastName, c.Email, c.Phone,
		c.ShippingAddress, c.ShippingPostalCode, c.ShippingCity,
		c.BillingAddress, c.BillingPostalCode, c.BillingCity,
		id,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to save contact for order %s: %w", id, err)
	}
	if tag.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkRefunded records the refund once. A second writer gets false and its
// refund id is discarded.
func (r *postgresRepository) MarkRefunded(ctx context.Context, id uuid.UUID, refundID string, at time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET refund_issued = TRUE, refund_id = $1, refunded_at = $2, updated_at = now()
		WHERE id = $3 AND NOT refund_issued
	`
	return r.execOne(ctx, "mark refunded", id, query, refundID, at, id)
}

func (r *postgresRepository) MarkPaymentEmailSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET payment_email_sent = TRUE, payment_email_sent_at = $1, updated_at = now()
		WHERE id = $2 AND NOT payment_email_sent
	`
	return r.execOne(ctx, "mark payment email sent", id, query, at, id)
}

func (r *postgresRepository) MarkCompletionEmailSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET completion_email_sent = TRUE, completion_email_sent_at = $1, updated_at = now()
		WHERE id = $2 AND NOT completion_email_sent
	`
	return r.execOne(ctx, "mark completion email sent", id, query, at, id)
}

func (r *postgresRepository) execOne(ctx context.Context, op string, id uuid.UUID, query string, args ...any) (bool, error) {
	tag, err := db.Conn(ctx, r.db).Exec(ctx, query, args...)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Str("op", op).Msg("repository: conditional update failed")
		return false, fmt.Errorf("repository: failed to %s for order %s: %w", op, id, err)
	}
	return tag.RowsAffected() == 1, nil
}
