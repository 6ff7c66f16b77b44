// README: Postgres test harness: FOODDASH_TEST_DSN or a throwaway container, migrated and truncated per test.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"fooddash/internal/infra"
)

var (
	dsnOnce sync.Once
	dsn     string
	dsnErr  error
)

// Postgres returns a pool on a migrated, empty database. The test is skipped
// when neither FOODDASH_TEST_DSN nor a container runtime is available.
func Postgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	dsnOnce.Do(func() { dsn, dsnErr = resolveDSN() })
	if dsnErr != nil {
		t.Skipf("postgres unavailable: %v", dsnErr)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, `
		TRUNCATE transfers, payments, order_tracking, order_items, orders,
		         drivers, menu_items, addresses, restaurants, users
		RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

func resolveDSN() (string, error) {
	if v := os.Getenv("FOODDASH_TEST_DSN"); v != "" {
		return v, Migrate(v)
	}
	if os.Getenv("FOODDASH_TEST_CONTAINERS") == "" {
		return "", errors.New("set FOODDASH_TEST_DSN or FOODDASH_TEST_CONTAINERS=1")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("fooddash"),
		postgres.WithUsername("fooddash"),
		postgres.WithPassword("fooddash"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return "", fmt.Errorf("start postgres container: %w", err)
	}
	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", fmt.Errorf("container connection string: %w", err)
	}
	if err := Migrate(connStr); err != nil {
		_ = container.Terminate(ctx)
		return "", err
	}
	return connStr, nil
}

// Migrate applies every up migration to the database at connStr.
func Migrate(connStr string) error {
	m, err := infra.NewMigrator(connStr, migrationsDir())
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filepath.Dir(filepath.Dir(filename)))
	return filepath.Join(root, "migrations")
}
