package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/db"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/pricing"
)

var ErrTotalMismatch = errors.New("order total does not match its lines and shipping")

type DraftInput struct {
	CustomerID uuid.NullUUID
	Cart       cart.Snapshot
}

type Service interface {
	CreateDraft(ctx context.Context, in DraftInput) (*Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Order, error)
}

type service struct {
	repo       Repository
	tx         db.Transactor
	calculator *pricing.Calculator
	currency   string
}

func NewService(repo Repository, tx db.Transactor, calculator *pricing.Calculator, currency string) Service {
	return &service{
		repo:       repo,
		tx:         tx,
		calculator: calculator,
		currency:   currency,
	}
}

// CreateDraft prices the snapshot and stores a pending order with its frozen
// lines. The cart itself is left untouched.
func (s *service) CreateDraft(ctx context.Context, in DraftInput) (*Order, error) {
	lines := make([]cart.Line, 0, len(in.Cart.Lines))
	for _, l := range in.Cart.Lines {
		l.UnitPrice = pricing.Round(l.UnitPrice)
		lines = append(lines, l)
	}
	snapshot := cart.NewSnapshot(lines...)

	quote, err := s.calculator.Quote(snapshot)
	if err != nil {
		log.Warn().Err(err).Msg("service: cannot price cart snapshot")
		return nil, err
	}

	o := &Order{
		CustomerID: in.CustomerID,
		Subtotal:   quote.Subtotal,
		Shipping:   quote.Shipping,
		Total:      quote.Total,
		Currency:   s.currency,
		Status:     StatusPending,
		Lines:      make([]Line, 0, len(snapshot.Lines)),
	}
	for _, l := range snapshot.Lines {
		o.Lines = append(o.Lines, Line{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}

	if err := VerifyTotal(o); err != nil {
		log.Error().Err(err).Msg("service: draft failed total check")
		return nil, err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, o)
	})
	if err != nil {
		log.Error().Err(err).Msg("service: failed to create draft order in repository")
		return nil, fmt.Errorf("service: failed to create draft order: %w", err)
	}

	log.Info().
		Stringer("order_id", o.ID).
		Stringer("total", o.Total).
		Int("lines", len(o.Lines)).
		Msg("service: draft order created")

	return o, nil
}

// VerifyTotal checks total = Σ(unit_price × qty) + shipping and total >= 0.
func VerifyTotal(o *Order) error {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	expected := pricing.Round(sum.Add(o.Shipping))

	if o.Total.IsNegative() || !o.Total.Equal(expected) || !o.Subtotal.Add(o.Shipping).Equal(o.Total) {
		return fmt.Errorf("%w: total %s, expected %s", ErrTotalMismatch, o.Total, expected)
	}
	return nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return o, nil
}

func (s *service) GetBySessionID(ctx context.Context, sessionID string) (*Order, error) {
	o, err := s.repo.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order by session id: %w", err)
	}
	return o, nil
}
