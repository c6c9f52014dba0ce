// Package postgres implements storage.Repository backed by PostgreSQL.
//
// Challenges live in slider_challenges, one column per field, with the CAS
// version checked in the UPDATE's WHERE clause. Redeemed token ids live in
// redeemed_tokens until their expiry; an expired row may be claimed again.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/slidergate/storage"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the required tables and indexes if they do not exist.
// It is safe to call on every startup (all statements use IF NOT EXISTS).
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// ---------------------------------------------------------------------------
// Challenges
// ---------------------------------------------------------------------------

func (s *Store) PutChallenge(ctx context.Context, c *storage.Challenge) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO slider_challenges
		   (id, scene, target_x, target_y, canvas_width, canvas_height, piece_width,
		    min_duration_ms, attempts, status, created_at, expires_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)
		 ON CONFLICT (id) DO NOTHING`,
		c.ID, c.Scene, c.TargetX, c.TargetY, c.CanvasWidth, c.CanvasHeight, c.PieceWidth,
		c.MinDurationMs, c.Attempts, string(c.Status), c.CreatedAt, c.ExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("challenge %s: %w", c.ID, storage.ErrCASFailed)
	}
	c.Version = 1
	return nil
}

func (s *Store) GetChallenge(ctx context.Context, id string) (*storage.Challenge, error) {
	var c storage.Challenge
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, scene, target_x, target_y, canvas_width, canvas_height, piece_width,
		        min_duration_ms, attempts, status, created_at, expires_at, version
		 FROM slider_challenges WHERE id = $1`, id).Scan(
		&c.ID, &c.Scene, &c.TargetX, &c.TargetY, &c.CanvasWidth, &c.CanvasHeight, &c.PieceWidth,
		&c.MinDurationMs, &c.Attempts, &status, &c.CreatedAt, &c.ExpiresAt, &c.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("challenge %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	c.Status = storage.Status(status)
	return &c, nil
}

func (s *Store) UpdateChallenge(ctx context.Context, c *storage.Challenge, expectedVersion uint64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE slider_challenges
		 SET attempts = $2, status = $3, expires_at = $4, version = version + 1
		 WHERE id = $1 AND version = $5`,
		c.ID, c.Attempts, string(c.Status), c.ExpiresAt, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM slider_challenges WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("challenge %s: %w", c.ID, storage.ErrNotFound)
		}
		return storage.ErrCASFailed
	}
	c.Version = expectedVersion + 1
	return nil
}

func (s *Store) DeleteChallenge(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM slider_challenges WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("challenge %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

func (s *Store) ConsumeToken(ctx context.Context, id string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO redeemed_tokens (id, expires_at) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET expires_at = EXCLUDED.expires_at
		 WHERE redeemed_tokens.expires_at <= now()`,
		id, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrTokenReplayed
	}
	return nil
}

func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n := 0
	for _, q := range []string{
		`DELETE FROM slider_challenges WHERE expires_at <= $1`,
		`DELETE FROM redeemed_tokens WHERE expires_at <= $1`,
	} {
		tag, err := tx.Exec(ctx, q, now)
		if err != nil {
			return 0, err
		}
		n += int(tag.RowsAffected())
	}
	return n, tx.Commit(ctx)
}
