// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmcleod/slidergate/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu         sync.RWMutex
	challenges map[string]*storage.Challenge
	tokens     map[string]time.Time
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{
		challenges: make(map[string]*storage.Challenge),
		tokens:     make(map[string]time.Time),
	}
}

func cloneChallenge(c *storage.Challenge) *storage.Challenge {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

func (r *Repository) PutChallenge(_ context.Context, c *storage.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.challenges[c.ID]; ok {
		return fmt.Errorf("challenge %s: %w", c.ID, storage.ErrCASFailed)
	}
	c.Version = 1
	r.challenges[c.ID] = cloneChallenge(c)
	return nil
}

func (r *Repository) GetChallenge(_ context.Context, id string) (*storage.Challenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.challenges[id]
	if !ok {
		return nil, fmt.Errorf("challenge %s: %w", id, storage.ErrNotFound)
	}
	return cloneChallenge(c), nil
}

func (r *Repository) UpdateChallenge(_ context.Context, c *storage.Challenge, expectedVersion uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.challenges[c.ID]
	if !ok {
		return fmt.Errorf("challenge %s: %w", c.ID, storage.ErrNotFound)
	}
	if existing.Version != expectedVersion {
		return storage.ErrCASFailed
	}
	c.Version = expectedVersion + 1
	r.challenges[c.ID] = cloneChallenge(c)
	return nil
}

func (r *Repository) DeleteChallenge(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.challenges[id]; !ok {
		return fmt.Errorf("challenge %s: %w", id, storage.ErrNotFound)
	}
	delete(r.challenges, id)
	return nil
}

func (r *Repository) ConsumeToken(_ context.Context, id string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exp, ok := r.tokens[id]; ok && time.Now().Before(exp) {
		return storage.ErrTokenReplayed
	}
	r.tokens[id] = expiresAt
	return nil
}

func (r *Repository) SweepExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, c := range r.challenges {
		if c.Expired(now) {
			delete(r.challenges, id)
			n++
		}
	}
	for id, exp := range r.tokens {
		if !now.Before(exp) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}
