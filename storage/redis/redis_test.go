package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/slidergate/storage"
	"github.com/jmcleod/slidergate/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("SLIDERGATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SLIDERGATE_TEST_REDIS_ADDR not set; skipping Redis tests")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err(), "could not connect to redis")

	// A per-test prefix keeps runs isolated without flushing the database.
	prefix := "slidergate-test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return NewRepository(client, prefix)
}

func TestRedisStorage(t *testing.T) {
	storagetest.Run(t, newTestStore(t))
}

func TestRedisKeysExpire(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	c := storagetest.NewChallenge(1500 * time.Millisecond)
	require.NoError(t, s.PutChallenge(ctx, c))

	ttl, err := s.client.TTL(ctx, s.challengeKey(c.ID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 2*time.Second)

	require.Eventually(t, func() bool {
		_, err := s.GetChallenge(ctx, c.ID)
		return err != nil
	}, 5*time.Second, 100*time.Millisecond)

	_, err = s.GetChallenge(ctx, c.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	n, err := s.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}
