package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/slidergate/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SLIDERGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SLIDERGATE_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err, "could not connect to postgres")
	require.NoError(t, EnsureSchema(ctx, pool), "could not ensure schema")

	// Clean tables for test isolation.
	pool.Exec(ctx, "DELETE FROM slider_challenges") //nolint:errcheck
	pool.Exec(ctx, "DELETE FROM redeemed_tokens")   //nolint:errcheck

	t.Cleanup(func() {
		pool.Exec(ctx, "DELETE FROM slider_challenges") //nolint:errcheck
		pool.Exec(ctx, "DELETE FROM redeemed_tokens")   //nolint:errcheck
		pool.Close()
	})
	return NewRepository(pool)
}

func TestPostgresStorage(t *testing.T) {
	storagetest.Run(t, newTestStore(t))
}

func TestPostgresSweep(t *testing.T) {
	storagetest.RunSweep(t, newTestStore(t))
}
