// Package storage provides the persistence abstraction for slider challenges
// and redeemed captcha tokens.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a challenge does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
	// ErrTokenReplayed is returned when a token id has already been redeemed.
	ErrTokenReplayed = errors.New("token already redeemed")
)

// Status is the lifecycle state of a stored challenge.
type Status string

const (
	StatusActive    Status = "active"
	StatusConsumed  Status = "consumed"
	StatusDiscarded Status = "discarded"
)

// Challenge is the server-side record of an issued puzzle, including the
// secret target position the client never sees.
type Challenge struct {
	ID            string    `json:"id"`
	Scene         string    `json:"scene"`
	TargetX       int       `json:"target_x"`
	TargetY       int       `json:"target_y"`
	CanvasWidth   int       `json:"canvas_width"`
	CanvasHeight  int       `json:"canvas_height"`
	PieceWidth    int       `json:"piece_width"`
	MinDurationMs int64     `json:"min_duration_ms"`
	Attempts      int       `json:"attempts"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Version       uint64    `json:"version"`
}

// Expired reports whether the challenge has passed its expiry at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Repository stores challenges and the ids of redeemed tokens.
type Repository interface {
	// PutChallenge stores a new challenge. Version is set to 1.
	PutChallenge(ctx context.Context, c *Challenge) error
	GetChallenge(ctx context.Context, id string) (*Challenge, error)
	// UpdateChallenge replaces c if the stored version equals
	// expectedVersion, and bumps c.Version on success.
	UpdateChallenge(ctx context.Context, c *Challenge, expectedVersion uint64) error
	DeleteChallenge(ctx context.Context, id string) error
	// ConsumeToken records a token id as redeemed until expiresAt. A second
	// call with an unexpired id returns ErrTokenReplayed.
	ConsumeToken(ctx context.Context, id string, expiresAt time.Time) error
	// SweepExpired removes challenges and token ids that expired before now
	// and returns how many records were removed.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}
