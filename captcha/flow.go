package captcha

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/text/message"
)

// Flow is the controller behind one verification modal. It owns the modal's
// open flag and state, and mediates between the Broker, the Verifier and the
// Lifecycle. The mutex guarding the view is never held across a network call.
type Flow struct {
	scene     Scene
	lifecycle *Lifecycle
	broker    *Broker
	verifier  *Verifier
	logger    *slog.Logger
	printer   *message.Printer
	onSuccess func(Token)

	mu        sync.Mutex
	open      bool
	state     State
	puzzle    Puzzle
	hasPuzzle bool
	errMsg    string
	summary   string
	failures  int
	// gen changes whenever the host closes; results computed under an older
	// generation are dropped.
	gen uint64
}

// View is a point-in-time copy of what the modal should display.
type View struct {
	Open         bool
	State        State
	Puzzle       *Puzzle
	ErrorMessage string
	SummaryText  string
	Failures     int
}

// NewFlow wires a Flow for scene. Destroy must be called when the host goes
// away for good.
func NewFlow(scene Scene, svc Service, opts ...Option) *Flow {
	cfg := newConfig(opts)
	lc := newLifecycle(svc, cfg)
	return &Flow{
		scene:     scene,
		lifecycle: lc,
		broker:    newBroker(svc, lc, cfg),
		verifier:  newVerifier(svc, lc, cfg),
		logger:    cfg.logger.With("component", "captcha.flow", "scene", scene.String()),
		printer:   message.NewPrinter(cfg.lang),
		onSuccess: cfg.onSuccess,
	}
}

// Open shows the modal and loads a challenge. Opening an already open modal
// reloads through the dedup window, so a doubled open costs one issuance.
func (f *Flow) Open(ctx context.Context) error {
	f.mu.Lock()
	if f.open {
		if f.state == StateVerifying {
			f.mu.Unlock()
			return ErrVerificationInProgress
		}
		f.errMsg = ""
		f.summary = ""
		if f.state != StateLoading {
			_ = f.fire(EventRefresh)
		}
	} else {
		f.open = true
		f.errMsg = ""
		f.summary = ""
		f.puzzle, f.hasPuzzle = Puzzle{}, false
		_ = f.fire(EventOpen)
	}
	gen := f.gen
	f.mu.Unlock()

	return f.load(ctx, gen)
}

// CompleteDrag verifies a finished drag. A drag completed while another is
// being verified is ignored with ErrVerificationInProgress. Any failure
// leaves the modal showing an error message over a freshly issued puzzle.
func (f *Flow) CompleteDrag(ctx context.Context, a Attempt) (Token, error) {
	f.mu.Lock()
	switch {
	case !f.open:
		f.mu.Unlock()
		return Token{}, ErrFlowClosed
	case f.state == StateVerifying:
		f.mu.Unlock()
		return Token{}, ErrVerificationInProgress
	}
	if err := f.fire(EventDragCompleted); err != nil {
		f.mu.Unlock()
		return Token{}, err
	}
	gen := f.gen
	f.mu.Unlock()

	tok, err := f.verifier.Verify(ctx, a)

	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		f.logger.Debug("verification result after close ignored")
		return Token{}, ErrFlowClosed
	}

	if err == nil {
		_ = f.fire(EventVerified)
		if tok.SummaryText == "" {
			tok.SummaryText = f.printer.Sprintf(msgVerifiedSummary)
		}
		f.summary = tok.SummaryText
		f.errMsg = ""
		f.failures = 0
		f.open = false
		f.gen++
		cb := f.onSuccess
		f.mu.Unlock()

		f.logger.Info("verification succeeded")
		if cb != nil {
			cb(tok)
		}
		return tok, nil
	}

	_ = f.fire(EventRejected)
	f.failures++
	f.errMsg = userMessage(f.printer, err)
	_ = f.fire(EventRefresh)
	failures := f.failures
	f.mu.Unlock()

	f.logger.Info("verification failed", "failures", failures, "error", err)
	f.broker.ResetCache(f.scene)
	if lerr := f.load(ctx, gen); lerr != nil {
		f.logger.Warn("refresh after failed verification", "error", lerr)
	}
	return Token{}, err
}

// Refresh discards the displayed puzzle and loads a new one. resetFailures
// clears the consecutive-failure counter the host may use for lockouts.
func (f *Flow) Refresh(ctx context.Context, resetFailures bool) error {
	f.mu.Lock()
	switch {
	case !f.open:
		f.mu.Unlock()
		return ErrFlowClosed
	case f.state == StateVerifying:
		f.mu.Unlock()
		return ErrVerificationInProgress
	}
	if err := f.fire(EventRefresh); err != nil {
		f.mu.Unlock()
		return err
	}
	f.errMsg = ""
	if resetFailures {
		f.failures = 0
	}
	gen := f.gen
	f.mu.Unlock()

	f.broker.ResetCache(f.scene)
	return f.load(ctx, gen)
}

// Close hides the modal. The live challenge, if any, is released; results
// still in flight are disregarded when they arrive.
func (f *Flow) Close() {
	f.mu.Lock()
	wasOpen := f.open
	f.open = false
	f.gen++
	_ = f.fire(EventClose)
	f.puzzle, f.hasPuzzle = Puzzle{}, false
	f.mu.Unlock()

	if wasOpen {
		f.lifecycle.ReleaseCurrent()
	}
}

// Destroy closes the modal and stops background release delivery after
// flushing what is queued.
func (f *Flow) Destroy() {
	f.Close()
	f.lifecycle.Close()
}

// Snapshot returns the current view.
func (f *Flow) Snapshot() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := View{
		Open:         f.open,
		State:        f.state,
		ErrorMessage: f.errMsg,
		SummaryText:  f.summary,
		Failures:     f.failures,
	}
	if f.hasPuzzle {
		p := f.puzzle
		v.Puzzle = &p
	}
	return v
}

// load requests a challenge, retrying once on failure.
func (f *Flow) load(ctx context.Context, gen uint64) error {
	puzzle, err := f.broker.RequestChallenge(ctx, f.scene)
	if err != nil && ctx.Err() == nil {
		f.logger.Info("retrying challenge issuance", "error", err)
		puzzle, err = f.broker.RequestChallenge(ctx, f.scene)
	}

	f.mu.Lock()
	if f.gen != gen {
		open := f.open
		f.mu.Unlock()
		if err == nil && !open {
			f.lifecycle.ReleaseCurrent()
		}
		return ErrFlowClosed
	}
	defer f.mu.Unlock()

	if err != nil {
		_ = f.fire(EventIssueFailed)
		f.errMsg = userMessage(f.printer, err)
		f.puzzle, f.hasPuzzle = Puzzle{}, false
		return err
	}
	f.puzzle, f.hasPuzzle = puzzle, true
	return f.fire(EventIssued)
}

// fire applies e; f.mu must be held.
func (f *Flow) fire(e Event) error {
	next, err := Transition(f.state, e)
	if err != nil {
		f.logger.Debug("ignored event", "state", f.state.String(), "event", e.String())
		return err
	}
	f.state = next
	return nil
}
