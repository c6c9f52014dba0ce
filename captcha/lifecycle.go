package captcha

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Lifecycle tracks the single live challenge and releases challenges that are
// no longer needed. Releases are fire-and-forget: they are queued and
// delivered by a background goroutine so that they never gate new work.
type Lifecycle struct {
	svc     Service
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	current *Challenge

	qmu     sync.Mutex
	queue   chan DiscardRequest
	stopped bool
	wg      sync.WaitGroup
}

// NewLifecycle starts the release worker. Call Close to stop it.
func NewLifecycle(svc Service, opts ...Option) *Lifecycle {
	return newLifecycle(svc, newConfig(opts))
}

func newLifecycle(svc Service, cfg clientConfig) *Lifecycle {
	l := &Lifecycle{
		svc:     svc,
		logger:  cfg.logger.With("component", "captcha.lifecycle"),
		timeout: cfg.releaseTimeout,
		queue:   make(chan DiscardRequest, cfg.releaseQueueSize),
	}
	l.wg.Add(1)
	go l.loop()
	return l
}

// Current returns the live challenge, if any.
func (l *Lifecycle) Current() (Challenge, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return Challenge{}, false
	}
	return *l.current, true
}

// Replace makes c the live challenge and releases the one it supersedes.
func (l *Lifecycle) Replace(c Challenge) {
	l.mu.Lock()
	prev := l.current
	l.current = &c
	l.mu.Unlock()

	if prev != nil && prev.ID != c.ID {
		l.enqueue(prev)
	}
}

// Clear drops the live challenge and releases it.
func (l *Lifecycle) Clear() {
	l.ReleaseCurrent()
}

// ReleaseCurrent releases whatever challenge is live.
func (l *Lifecycle) ReleaseCurrent() {
	l.mu.Lock()
	prev := l.current
	l.current = nil
	l.mu.Unlock()

	if prev != nil {
		l.enqueue(prev)
	}
}

// Release releases id if it is still the live challenge. Releasing an id
// that has already been cleared is a no-op.
func (l *Lifecycle) Release(id string) {
	l.mu.Lock()
	if l.current == nil || l.current.ID != id {
		l.mu.Unlock()
		return
	}
	prev := l.current
	l.current = nil
	l.mu.Unlock()

	l.enqueue(prev)
}

// Consume clears id without releasing it; the service has already
// invalidated a challenge that verified successfully.
func (l *Lifecycle) Consume(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil && l.current.ID == id {
		l.current = nil
	}
}

// Close releases the live challenge, then drains pending releases and stops
// the worker.
func (l *Lifecycle) Close() {
	l.ReleaseCurrent()

	l.qmu.Lock()
	if l.stopped {
		l.qmu.Unlock()
		return
	}
	l.stopped = true
	close(l.queue)
	l.qmu.Unlock()

	l.wg.Wait()
}

func (l *Lifecycle) enqueue(c *Challenge) {
	req := DiscardRequest{ChallengeID: c.ID, Scene: c.Scene}

	l.qmu.Lock()
	defer l.qmu.Unlock()
	if l.stopped {
		l.logger.Debug("release after close dropped", "challenge_id", c.ID)
		return
	}
	select {
	case l.queue <- req:
	default:
		l.logger.Warn("release queue full, dropping discard", "challenge_id", c.ID)
	}
}

func (l *Lifecycle) loop() {
	defer l.wg.Done()
	for req := range l.queue {
		l.deliver(req)
	}
}

func (l *Lifecycle) deliver(req DiscardRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	if err := l.svc.DiscardChallenge(ctx, req); err != nil {
		l.logger.Debug("discard failed",
			"challenge_id", req.ChallengeID,
			"scene", req.Scene.String(),
			"error", err,
		)
		return
	}
	l.logger.Debug("challenge released", "challenge_id", req.ChallengeID)
}
