// Package storagetest holds the behaviour every storage.Repository backend
// must share. Backend tests call Run with a fresh, empty repository.
package storagetest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/slidergate/storage"
)

// NewChallenge returns an active challenge expiring ttl from now.
func NewChallenge(ttl time.Duration) *storage.Challenge {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &storage.Challenge{
		ID:            uuid.NewString(),
		Scene:         "login",
		TargetX:       180,
		TargetY:       60,
		CanvasWidth:   310,
		CanvasHeight:  155,
		PieceWidth:    42,
		MinDurationMs: 220,
		Status:        storage.StatusActive,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
}

// Run exercises repo. It must start empty.
func Run(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	t.Run("PutGet", func(t *testing.T) {
		c := NewChallenge(time.Minute)
		require.NoError(t, repo.PutChallenge(ctx, c))
		assert.Equal(t, uint64(1), c.Version)

		got, err := repo.GetChallenge(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
		assert.Equal(t, c.TargetX, got.TargetX)
		assert.Equal(t, c.MinDurationMs, got.MinDurationMs)
		assert.Equal(t, storage.StatusActive, got.Status)
		assert.True(t, c.ExpiresAt.Equal(got.ExpiresAt))
		assert.Equal(t, uint64(1), got.Version)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.GetChallenge(ctx, uuid.NewString())
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("UpdateCAS", func(t *testing.T) {
		c := NewChallenge(time.Minute)
		require.NoError(t, repo.PutChallenge(ctx, c))

		c.Attempts = 1
		require.NoError(t, repo.UpdateChallenge(ctx, c, 1))
		assert.Equal(t, uint64(2), c.Version)

		stale := *c
		stale.Attempts = 5
		err := repo.UpdateChallenge(ctx, &stale, 1)
		assert.ErrorIs(t, err, storage.ErrCASFailed)

		got, err := repo.GetChallenge(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Attempts)
		assert.Equal(t, uint64(2), got.Version)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		err := repo.UpdateChallenge(ctx, NewChallenge(time.Minute), 1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		c := NewChallenge(time.Minute)
		require.NoError(t, repo.PutChallenge(ctx, c))
		require.NoError(t, repo.DeleteChallenge(ctx, c.ID))

		_, err := repo.GetChallenge(ctx, c.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, repo.DeleteChallenge(ctx, c.ID), storage.ErrNotFound)
	})

	t.Run("ConsumeToken", func(t *testing.T) {
		id := uuid.NewString()
		require.NoError(t, repo.ConsumeToken(ctx, id, time.Now().Add(time.Minute)))
		assert.ErrorIs(t, repo.ConsumeToken(ctx, id, time.Now().Add(time.Minute)), storage.ErrTokenReplayed)
		require.NoError(t, repo.ConsumeToken(ctx, uuid.NewString(), time.Now().Add(time.Minute)))
	})
}

// RunSweep checks SweepExpired on backends that remove expired records
// themselves.
func RunSweep(t *testing.T, repo storage.Repository) {
	ctx := t.Context()

	live := NewChallenge(time.Hour)
	dead := NewChallenge(time.Second)
	require.NoError(t, repo.PutChallenge(ctx, live))
	require.NoError(t, repo.PutChallenge(ctx, dead))
	require.NoError(t, repo.ConsumeToken(ctx, "old-token", time.Now().Add(time.Second)))

	n, err := repo.SweepExpired(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = repo.GetChallenge(ctx, dead.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.GetChallenge(ctx, live.ID)
	assert.NoError(t, err)

	// A swept token id may be redeemed again; its token has long expired.
	assert.NoError(t, repo.ConsumeToken(ctx, "old-token", time.Now().Add(time.Minute)))
}
