// Package dbtest opens a migrated Postgres pool for integration tests. Tests
// are skipped unless TEST_DATABASE_URL is set.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/credits/internal/db"
)

// Open connects to TEST_DATABASE_URL, applies the schema and empties every
// application table.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping postgres integration test")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE credit_ledger, purchases, credit_packages, users CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}
