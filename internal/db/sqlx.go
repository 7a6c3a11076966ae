package db

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/config"
)

// NewSQLX opens a database/sql handle over the pgx driver for the
// reporting queries that scan straight into structs.
func NewSQLX(ctx context.Context, cfg config.PostgresConfig) (*sqlx.DB, error) {
	conn, err := sqlx.ConnectContext(ctx, "pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect via sqlx: %w", err)
	}
	conn.SetMaxOpenConns(int(cfg.MaxConns))
	conn.SetConnMaxLifetime(cfg.MaxConnLifetime)
	return conn, nil
}
