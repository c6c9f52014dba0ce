// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/slidergate/storage"
)

var (
	challengesBucket = []byte("challenges")
	tokensBucket     = []byte("redeemed_tokens")
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{challengesBucket, tokensBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewRepository(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) PutChallenge(_ context.Context, c *storage.Challenge) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(challengesBucket)
		if b.Get([]byte(c.ID)) != nil {
			return fmt.Errorf("challenge %s: %w", c.ID, storage.ErrCASFailed)
		}
		stored := *c
		stored.Version = 1
		if err := putChallenge(b, &stored); err != nil {
			return err
		}
		c.Version = 1
		return nil
	})
}

func (s *Store) GetChallenge(_ context.Context, id string) (*storage.Challenge, error) {
	var c *storage.Challenge
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		c, err = getChallenge(tx.Bucket(challengesBucket), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) UpdateChallenge(_ context.Context, c *storage.Challenge, expectedVersion uint64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(challengesBucket)
		existing, err := getChallenge(b, c.ID)
		if err != nil {
			return err
		}
		if existing.Version != expectedVersion {
			return storage.ErrCASFailed
		}
		stored := *c
		stored.Version = expectedVersion + 1
		if err := putChallenge(b, &stored); err != nil {
			return err
		}
		c.Version = stored.Version
		return nil
	})
}

func (s *Store) DeleteChallenge(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(challengesBucket)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("challenge %s: %w", id, storage.ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

func (s *Store) ConsumeToken(_ context.Context, id string, expiresAt time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tokensBucket)
		if v := b.Get([]byte(id)); v != nil && time.Now().Before(decodeTime(v)) {
			return storage.ErrTokenReplayed
		}
		return b.Put([]byte(id), encodeTime(expiresAt))
	})
}

func (s *Store) SweepExpired(_ context.Context, now time.Time) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var dead [][]byte
		cb := tx.Bucket(challengesBucket)
		err := cb.ForEach(func(k, v []byte) error {
			var c storage.Challenge
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("decoding challenge %s: %w", k, err)
			}
			if c.Expired(now) {
				dead = append(dead, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range dead {
			if err := cb.Delete(k); err != nil {
				return err
			}
		}
		n += len(dead)

		dead = dead[:0]
		tb := tx.Bucket(tokensBucket)
		_ = tb.ForEach(func(k, v []byte) error {
			if !now.Before(decodeTime(v)) {
				dead = append(dead, append([]byte(nil), k...))
			}
			return nil
		})
		for _, k := range dead {
			if err := tb.Delete(k); err != nil {
				return err
			}
		}
		n += len(dead)
		return nil
	})
	return n, err
}

func getChallenge(b *bbolt.Bucket, id string) (*storage.Challenge, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("challenge %s: %w", id, storage.ErrNotFound)
	}
	var c storage.Challenge
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding challenge %s: %w", id, err)
	}
	return &c, nil
}

func putChallenge(b *bbolt.Bucket, c *storage.Challenge) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return b.Put([]byte(c.ID), data)
}

// Token expiries are stored as 8-byte big-endian unix milliseconds.
func encodeTime(t time.Time) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.UnixMilli()))
	return buf[:]
}

func decodeTime(b []byte) time.Time {
	if len(b) != 8 {
		return time.Time{}
	}
	return time.UnixMilli(int64(binary.BigEndian.Uint64(b)))
}
