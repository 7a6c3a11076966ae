// Package dbtest gives repository tests a migrated Postgres database. Tests
// are skipped unless TEST_DATABASE_URL points at a disposable database.
package dbtest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const envURL = "TEST_DATABASE_URL"

var (
	migrateOnce sync.Once
	migrateErr  error
)

// Pool returns a pool on a freshly truncated schema and closes it when the
// test ends.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := URL(t)
	migrateOnce.Do(func() { migrateErr = applyMigrations(url) })
	if migrateErr != nil {
		t.Fatalf("failed to migrate test database: %v", migrateErr)
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatalf("invalid %s: %v", envURL, err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	Truncate(t, pool)
	return pool
}

// URL returns TEST_DATABASE_URL or skips the test.
func URL(t *testing.T) string {
	t.Helper()
	url := lookupURL()
	if url == "" {
		t.Skipf("%s not set, skipping Postgres test", envURL)
	}
	return url
}

func lookupURL() string {
	return strings.TrimSpace(os.Getenv(envURL))
}

func Truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), "TRUNCATE TABLE order_lines, gateway_events, orders, products RESTART IDENTITY CASCADE")
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

func SeedProduct(t *testing.T, pool *pgxpool.Pool, id int64, stock int, active bool) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		"INSERT INTO products (id, name, stock, is_active) VALUES ($1, $2, $3, $4)",
		id, "product", stock, active)
	if err != nil {
		t.Fatalf("failed to seed product %d: %v", id, err)
	}
}

func applyMigrations(url string) error {
	_, file, _, _ := runtime.Caller(0)
	dir := filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")

	m, err := migrate.New("file://"+dir, migrateURL(url))
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func migrateURL(url string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(url, prefix) {
			return "pgx5://" + strings.TrimPrefix(url, prefix)
		}
	}
	return url
}
