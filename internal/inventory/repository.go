package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/db"
)

var ErrInsufficientStock = errors.New("insufficient stock")

type Item struct {
	ProductID int64
	Quantity  int
}

// Repository applies the only inventory write this service owns: a
// conditional decrement. The catalog owns everything else about products.
type Repository interface {
	Decrement(ctx context.Context, productID int64, quantity int) error
	Reserve(ctx context.Context, items []Item) error
	Stock(ctx context.Context, productID int64) (int, error)
}

type postgresRepository struct {
	db db.Querier
}

func NewRepository(pool db.Querier) Repository {
	return &postgresRepository{db: pool}
}

// Decrement takes quantity units only when the product is active and has
// enough stock. Anything but exactly one affected row is ErrInsufficientStock.
func (r *postgresRepository) Decrement(ctx context.Context, productID int64, quantity int) error {
	query := `
		UPDATE products
		SET stock = stock - $1
		WHERE id = $2 AND is_active AND stock >= $1
	`
	tag, err := db.Conn(ctx, r.db).Exec(ctx, query, quantity, productID)
	if err != nil {
		return fmt.Errorf("repository: failed to decrement stock for product %d: %w", productID, err)
	}
	if tag.RowsAffected() != 1 {
		log.Warn().Int64("product_id", productID).Int("quantity", quantity).Msg("repository: conditional stock decrement matched no row")
		return fmt.Errorf("%w: product %d, quantity %d", ErrInsufficientStock, productID, quantity)
	}
	return nil
}

// Reserve decrements every item, stopping at the first shortage. It must run
// inside a transaction so a shortage rolls back earlier decrements.
func (r *postgresRepository) Reserve(ctx context.Context, items []Item) error {
	for _, it := range SortedByProduct(items) {
		if err := r.Decrement(ctx, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (r *postgresRepository) Stock(ctx context.Context, productID int64) (int, error) {
	var stock int
	err := db.Conn(ctx, r.db).QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to read stock for product %d: %w", productID, err)
	}
	return stock, nil
}

// SortedByProduct returns a copy ordered by product id. Concurrent
// reservations then lock rows in the same order.
func SortedByProduct(items []Item) []Item {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ProductID < sorted[j].ProductID
	})
	return sorted
}
