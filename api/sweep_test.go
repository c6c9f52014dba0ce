package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/slidergate/captcha"
	"github.com/jmcleod/slidergate/storage"
	"github.com/jmcleod/slidergate/storage/memory"
)

func TestSweepPurgesExpiredState(t *testing.T) {
	clock := newTestClock()
	repo := memory.NewRepository()
	a, err := New(repo,
		WithLogger(quietLogger()),
		WithClock(clock.Now),
		WithSweepInterval(0),
		WithTokenKey([]byte("sweep-test-key")))
	require.NoError(t, err)
	defer a.Close()

	pol := DefaultScenePolicy
	c, err := a.newChallenge(captcha.SceneLogin, pol)
	require.NoError(t, err)
	require.NoError(t, repo.PutChallenge(t.Context(), c))
	a.failures.recordFailure("192.0.2.1")
	a.issueLimiter.allow("192.0.2.1|login", 5, time.Minute)

	clock.Advance(pol.ChallengeTTL)
	a.sweep(t.Context())
	_, err = repo.GetChallenge(t.Context(), c.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, a.issueLimiter.windows)

	clock.Advance(attemptExpiry + time.Second)
	a.sweep(t.Context())
	assert.Empty(t, a.failures.attempts)
}

func TestNewChallengeBounds(t *testing.T) {
	a := &API{now: newTestClock().Now}
	pol := DefaultScenePolicy
	for range 200 {
		c, err := a.newChallenge(captcha.SceneRegister, pol)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, c.TargetX, pol.PieceWidth+targetMargin)
		assert.LessOrEqual(t, c.TargetX, pol.CanvasWidth-pol.PieceWidth-targetMargin)
		assert.GreaterOrEqual(t, c.TargetY, 0)
		assert.LessOrEqual(t, c.TargetY, pol.CanvasHeight-pol.PieceWidth)
		assert.Equal(t, int64(220), c.MinDurationMs)
		assert.Equal(t, storage.StatusActive, c.Status)
	}
}
