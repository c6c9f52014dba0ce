package captcha

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Broker issues challenges. A successful issuance is reused for the same
// scene within the dedup window, and concurrent requests share a single
// in-flight call.
type Broker struct {
	svc       Service
	lifecycle *Lifecycle
	logger    *slog.Logger
	ttl       time.Duration
	now       func() time.Time

	group singleflight.Group

	mu    sync.Mutex
	cache map[Scene]dedupEntry
}

type dedupEntry struct {
	challengeID string
	puzzle      Puzzle
	issuedAt    time.Time
}

// NewBroker returns a Broker that records issued challenges in lifecycle.
func NewBroker(svc Service, lifecycle *Lifecycle, opts ...Option) *Broker {
	return newBroker(svc, lifecycle, newConfig(opts))
}

func newBroker(svc Service, lifecycle *Lifecycle, cfg clientConfig) *Broker {
	return &Broker{
		svc:       svc,
		lifecycle: lifecycle,
		logger:    cfg.logger.With("component", "captcha.broker"),
		ttl:       cfg.dedupTTL,
		now:       cfg.now,
		cache:     make(map[Scene]dedupEntry),
	}
}

// RequestChallenge returns the puzzle for a live challenge in scene, issuing
// a new one unless a recent issuance can be reused.
//
// ctx only bounds this caller's wait. A coalesced call keeps running for the
// remaining waiters if one of them gives up.
func (b *Broker) RequestChallenge(ctx context.Context, scene Scene) (Puzzle, error) {
	if p, ok := b.cached(scene); ok {
		return p, nil
	}

	ch := b.group.DoChan(string(scene), func() (any, error) {
		return b.issue(context.WithoutCancel(ctx), scene)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Puzzle{}, res.Err
		}
		return res.Val.(Puzzle), nil
	case <-ctx.Done():
		return Puzzle{}, fmt.Errorf("%w: %w", ErrChallengeIssuance, ctx.Err())
	}
}

// ResetCache forgets the last issuance for scene so the next request goes
// to the service.
func (b *Broker) ResetCache(scene Scene) {
	b.mu.Lock()
	delete(b.cache, scene)
	b.mu.Unlock()
}

func (b *Broker) cached(scene Scene) (Puzzle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.cache[scene]
	if !ok {
		return Puzzle{}, false
	}
	if b.ttl <= 0 || b.now().Sub(e.issuedAt) >= b.ttl {
		delete(b.cache, scene)
		return Puzzle{}, false
	}
	// A consumed or released challenge must not be handed out again.
	if cur, live := b.lifecycle.Current(); !live || cur.ID != e.challengeID {
		delete(b.cache, scene)
		return Puzzle{}, false
	}
	return e.puzzle, true
}

func (b *Broker) issue(ctx context.Context, scene Scene) (Puzzle, error) {
	data, err := b.svc.IssueChallenge(ctx, IssueRequest{Scene: scene})
	if err != nil {
		b.lifecycle.Clear()
		b.logger.Warn("challenge issuance failed", "scene", scene.String(), "error", err)
		return Puzzle{}, fmt.Errorf("%w: %w", ErrChallengeIssuance, err)
	}

	c, err := challengeFromIssue(scene, data)
	if err != nil {
		b.lifecycle.Clear()
		b.logger.Error("incomplete challenge from service", "scene", scene.String(), "error", err)
		return Puzzle{}, err
	}

	b.lifecycle.Replace(c)
	puzzle := c.Puzzle()

	b.mu.Lock()
	b.cache[scene] = dedupEntry{challengeID: c.ID, puzzle: puzzle, issuedAt: b.now()}
	b.mu.Unlock()

	b.logger.Debug("challenge issued", "scene", scene.String(), "challenge_id", c.ID)
	return puzzle, nil
}

func challengeFromIssue(scene Scene, d *IssueData) (Challenge, error) {
	switch {
	case d == nil:
		return Challenge{}, fmt.Errorf("%w: %w: no data", ErrChallengeIssuance, ErrChallengeDataIncomplete)
	case d.ChallengeID == "":
		return Challenge{}, fmt.Errorf("%w: %w: missing challenge_id", ErrChallengeIssuance, ErrChallengeDataIncomplete)
	case d.BgURL == "":
		return Challenge{}, fmt.Errorf("%w: %w: missing bg_url", ErrChallengeIssuance, ErrChallengeDataIncomplete)
	case d.PuzzleURL == "":
		return Challenge{}, fmt.Errorf("%w: %w: missing puzzle_url", ErrChallengeIssuance, ErrChallengeDataIncomplete)
	case d.Slider == nil:
		return Challenge{}, fmt.Errorf("%w: %w: missing slider", ErrChallengeIssuance, ErrChallengeDataIncomplete)
	}
	return Challenge{
		ID:                     d.ChallengeID,
		Scene:                  scene,
		BackgroundImageRef:     d.BgURL,
		PuzzleImageRef:         d.PuzzleURL,
		CanvasWidth:            d.Slider.Width,
		CanvasHeight:           d.Slider.Height,
		PuzzlePieceWidth:       d.Slider.PuzzleWidth,
		MinInteractionDuration: time.Duration(d.Slider.MinDurationMs) * time.Millisecond,
	}, nil
}
