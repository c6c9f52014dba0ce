// Package redis implements storage.Repository on Redis. Challenges and
// redeemed token ids are stored as keys whose TTL is their expiry, so Redis
// does the sweeping itself.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmcleod/slidergate/storage"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "slidergate:"

// Store implements storage.Repository backed by Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository using client. An empty prefix means
// DefaultPrefix.
func NewRepository(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// NewRepositoryFromAddr connects to a single Redis server and checks it is
// reachable.
func NewRepositoryFromAddr(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", addr, err)
	}
	return NewRepository(client, ""), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) challengeKey(id string) string { return s.prefix + "challenge:" + id }
func (s *Store) tokenKey(id string) string     { return s.prefix + "token:" + id }

// ttlUntil converts an absolute expiry to a key TTL. Redis rejects
// non-positive TTLs on SET, so already-expired records live for a moment.
func ttlUntil(t time.Time) time.Duration {
	return max(time.Until(t), time.Millisecond)
}

func (s *Store) PutChallenge(ctx context.Context, c *storage.Challenge) error {
	stored := *c
	stored.Version = 1
	data, err := json.Marshal(&stored)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.challengeKey(c.ID), data, ttlUntil(c.ExpiresAt)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("challenge %s: %w", c.ID, storage.ErrCASFailed)
	}
	c.Version = 1
	return nil
}

func (s *Store) GetChallenge(ctx context.Context, id string) (*storage.Challenge, error) {
	return getChallenge(ctx, s.client, s.challengeKey(id), id)
}

func (s *Store) UpdateChallenge(ctx context.Context, c *storage.Challenge, expectedVersion uint64) error {
	key := s.challengeKey(c.ID)
	stored := *c
	stored.Version = expectedVersion + 1

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := getChallenge(ctx, tx, key, c.ID)
		if err != nil {
			return err
		}
		if existing.Version != expectedVersion {
			return storage.ErrCASFailed
		}
		data, err := json.Marshal(&stored)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, ttlUntil(c.ExpiresAt))
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return storage.ErrCASFailed
	}
	if err != nil {
		return err
	}
	c.Version = stored.Version
	return nil
}

func (s *Store) DeleteChallenge(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.challengeKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("challenge %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ConsumeToken(ctx context.Context, id string, expiresAt time.Time) error {
	ok, err := s.client.SetNX(ctx, s.tokenKey(id), 1, ttlUntil(expiresAt)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrTokenReplayed
	}
	return nil
}

// SweepExpired is a no-op: key TTLs expire records.
func (s *Store) SweepExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getChallenge(ctx context.Context, c getter, key, id string) (*storage.Challenge, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("challenge %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var ch storage.Challenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("decoding challenge %s: %w", id, err)
	}
	return &ch, nil
}
