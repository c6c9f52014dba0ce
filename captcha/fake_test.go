package captcha

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeService is a scripted Service. Gates, when set, block the matching call
// until closed.
type fakeService struct {
	mu sync.Mutex

	minDurationMs int64
	issueErrs     []error
	issueData     func(n int) *IssueData
	verifyFn      func(VerifyRequest) (*VerifyData, error)
	discardErr    error

	issueGate   chan struct{}
	verifyGate  chan struct{}
	discardGate chan struct{}

	issueCalls  int
	verifyCalls int
	verifies    []VerifyRequest
	discarded   []string
}

func newFakeService() *fakeService {
	return &fakeService{minDurationMs: 220}
}

func (s *fakeService) IssueChallenge(ctx context.Context, req IssueRequest) (*IssueData, error) {
	s.mu.Lock()
	s.issueCalls++
	n := s.issueCalls
	gate := s.issueGate
	var err error
	if len(s.issueErrs) > 0 {
		err, s.issueErrs = s.issueErrs[0], s.issueErrs[1:]
	}
	build := s.issueData
	minMs := s.minDurationMs
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if build != nil {
		return build(n), nil
	}
	id := fmt.Sprintf("ch-%d", n)
	return &IssueData{
		ChallengeID: id,
		BgURL:       "/captcha/img/" + id + "/bg.png",
		PuzzleURL:   "/captcha/img/" + id + "/puzzle.png",
		Slider:      &SliderSpec{Width: 310, Height: 155, PuzzleWidth: 42, MinDurationMs: minMs},
	}, nil
}

func (s *fakeService) VerifyAttempt(ctx context.Context, req VerifyRequest) (*VerifyData, error) {
	s.mu.Lock()
	s.verifyCalls++
	s.verifies = append(s.verifies, req)
	gate := s.verifyGate
	fn := s.verifyFn
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn != nil {
		return fn(req)
	}
	return &VerifyData{CaptchaToken: "tok-" + req.ChallengeID}, nil
}

func (s *fakeService) DiscardChallenge(ctx context.Context, req DiscardRequest) error {
	s.mu.Lock()
	gate := s.discardGate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.discarded = append(s.discarded, req.ChallengeID)
	return s.discardErr
}

func (s *fakeService) issues() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueCalls
}

func (s *fakeService) verifyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifyCalls
}

func (s *fakeService) lastVerify() VerifyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifies[len(s.verifies)-1]
}

func (s *fakeService) discards() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.discarded...)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// straightDrag builds a raw trail of n points.
func straightDrag(n int) [][]float64 {
	trail := make([][]float64, n)
	for i := range trail {
		trail[i] = []float64{float64(i), 77 + float64(i%3)}
	}
	return trail
}
