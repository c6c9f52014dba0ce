package captcha

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T, svc Service, opts ...Option) (*Broker, *Lifecycle) {
	t.Helper()
	l := NewLifecycle(svc, opts...)
	t.Cleanup(l.Close)
	return NewBroker(svc, l, opts...), l
}

func TestBroker_DedupWindow(t *testing.T) {
	svc := newFakeService()
	clock := newFakeClock()
	b, l := newTestBroker(t, svc, WithClock(clock.Now))
	ctx := t.Context()

	first, err := b.RequestChallenge(ctx, SceneLogin)
	require.NoError(t, err)
	firstID := currentID(t, l)

	clock.Advance(299 * time.Millisecond)
	second, err := b.RequestChallenge(ctx, SceneLogin)
	require.NoError(t, err)

	assert.Equal(t, 1, svc.issues())
	assert.Equal(t, first, second)
	assert.Equal(t, firstID, currentID(t, l))

	clock.Advance(2 * time.Millisecond)
	third, err := b.RequestChallenge(ctx, SceneLogin)
	require.NoError(t, err)

	assert.Equal(t, 2, svc.issues())
	assert.NotEqual(t, first.BackgroundImageRef, third.BackgroundImageRef)
	assert.NotEqual(t, firstID, currentID(t, l))
}

func TestBroker_ResetCacheForcesIssuance(t *testing.T) {
	svc := newFakeService()
	b, _ := newTestBroker(t, svc, WithClock(newFakeClock().Now))
	ctx := t.Context()

	_, err := b.RequestChallenge(ctx, SceneLogin)
	require.NoError(t, err)
	b.ResetCache(SceneLogin)
	_, err = b.RequestChallenge(ctx, SceneLogin)
	require.NoError(t, err)

	assert.Equal(t, 2, svc.issues())
}

func TestBroker_CacheIsPerScene(t *testing.T) {
	svc := newFakeService()
	b, _ := newTestBroker(t, svc, WithClock(newFakeClock().Now))
	ctx := t.Context()

	_, err := b.RequestChallenge(ctx, SceneLogin)
	require.NoError(t, err)
	_, err = b.RequestChallenge(ctx, SceneRegister)
	require.NoError(t, err)

	assert.Equal(t, 2, svc.issues())
}

func TestBroker_ConsumedChallengeIsNotReused(t *testing.T) {
	svc := newFakeService()
	b, l := newTestBroker(t, svc, WithClock(newFakeClock().Now))
	ctx := t.Context()

	_, err := b.RequestChallenge(ctx, SceneLogin)
	require.NoError(t, err)
	l.Consume(currentID(t, l))

	_, err = b.RequestChallenge(ctx, SceneLogin)
	require.NoError(t, err)
	assert.Equal(t, 2, svc.issues())
}

func TestBroker_CoalescesConcurrentRequests(t *testing.T) {
	svc := newFakeService()
	svc.issueGate = make(chan struct{})
	b, _ := newTestBroker(t, svc, WithClock(newFakeClock().Now))
	ctx := t.Context()

	const n = 8
	results := make([]Puzzle, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = b.RequestChallenge(ctx, SceneLogin)
		}()
	}

	require.Eventually(t, func() bool { return svc.issues() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(svc.issueGate)
	wg.Wait()

	assert.Equal(t, 1, svc.issues())
	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
}

func TestBroker_CoalescedFailureIsShared(t *testing.T) {
	svc := newFakeService()
	svc.issueGate = make(chan struct{})
	svc.issueErrs = []error{errors.New("upstream down")}
	b, _ := newTestBroker(t, svc)
	ctx := t.Context()

	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = b.RequestChallenge(ctx, SceneLogin)
		}()
	}

	require.Eventually(t, func() bool { return svc.issues() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(svc.issueGate)
	wg.Wait()

	assert.Equal(t, 1, svc.issues())
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrChallengeIssuance)
		assert.ErrorContains(t, err, "upstream down")
	}

	// The settled call is forgotten; the next request starts fresh.
	_, err := b.RequestChallenge(ctx, SceneLogin)
	require.NoError(t, err)
	assert.Equal(t, 2, svc.issues())
}

func TestBroker_IncompleteData(t *testing.T) {
	tests := []struct {
		name string
		data *IssueData
	}{
		{"nil", nil},
		{"missing id", &IssueData{BgURL: "bg", PuzzleURL: "pz", Slider: &SliderSpec{}}},
		{"missing bg", &IssueData{ChallengeID: "x", PuzzleURL: "pz", Slider: &SliderSpec{}}},
		{"missing puzzle", &IssueData{ChallengeID: "x", BgURL: "bg", Slider: &SliderSpec{}}},
		{"missing slider", &IssueData{ChallengeID: "x", BgURL: "bg", PuzzleURL: "pz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.issueData = func(int) *IssueData { return tt.data }
			b, l := newTestBroker(t, svc)

			_, err := b.RequestChallenge(t.Context(), SceneLogin)
			assert.ErrorIs(t, err, ErrChallengeIssuance)
			assert.ErrorIs(t, err, ErrChallengeDataIncomplete)

			_, ok := l.Current()
			assert.False(t, ok)
		})
	}
}

func TestBroker_FailureClearsAndReleasesCurrent(t *testing.T) {
	svc := newFakeService()
	l := NewLifecycle(svc)
	b := NewBroker(svc, l)
	ctx := t.Context()

	_, err := b.RequestChallenge(ctx, SceneLogin)
	require.NoError(t, err)

	b.ResetCache(SceneLogin)
	svc.mu.Lock()
	svc.issueErrs = []error{&RemoteError{StatusCode: 429, Message: "slow down"}}
	svc.mu.Unlock()

	_, err = b.RequestChallenge(ctx, SceneLogin)
	require.Error(t, err)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 429, re.StatusCode)

	_, ok := l.Current()
	assert.False(t, ok)

	l.Close()
	assert.Equal(t, []string{"ch-1"}, svc.discards())
}

func TestBroker_WaiterCancellationKeepsSharedCall(t *testing.T) {
	svc := newFakeService()
	svc.issueGate = make(chan struct{})
	b, l := newTestBroker(t, svc, WithClock(newFakeClock().Now))

	ctx, cancel := context.WithCancel(t.Context())
	errc := make(chan error, 1)
	go func() {
		_, err := b.RequestChallenge(ctx, SceneLogin)
		errc <- err
	}()
	require.Eventually(t, func() bool { return svc.issues() == 1 }, time.Second, time.Millisecond)

	cancel()
	err := <-errc
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrChallengeIssuance)

	close(svc.issueGate)
	require.Eventually(t, func() bool {
		_, ok := l.Current()
		return ok
	}, time.Second, time.Millisecond)

	_, err = b.RequestChallenge(t.Context(), SceneLogin)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.issues())
}

func currentID(t *testing.T, l *Lifecycle) string {
	t.Helper()
	c, ok := l.Current()
	require.True(t, ok)
	return c.ID
}
