package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errUpstream = errors.New("upstream 502")

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(t *testing.T, cfg Config) (*CircuitBreaker, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("test", cfg, zaptest.NewLogger(t))
	cb.clock = clock.Now
	cb.reset(clock.Now())
	return cb, clock
}

func succeed() error { return nil }
func fail() error    { return errUpstream }

func TestBreakerLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.MaxRequests = 5
	cfg.Timeout = 100 * time.Millisecond
	cfg.Interval = time.Minute
	cb, clock := newTestBreaker(t, cfg)
	ctx := context.Background()

	assert.Equal(t, StateClosed, cb.State())
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(ctx, succeed))
	}
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	}
	require.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitBreakerOpen)

	clock.Advance(150 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.Timeout = time.Second
	cb, clock := newTestBreaker(t, cfg)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(2 * time.Second)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerHalfOpenAdmitsMaxRequests(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.MaxRequests = 2
	cfg.SuccessThreshold = 5
	cfg.Timeout = time.Second
	cb, clock := newTestBreaker(t, cfg)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(2 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrTooManyRequests)
}

func TestBreakerClosedWindowRollsOver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	cfg.Interval = time.Minute
	cb, clock := newTestBreaker(t, cfg)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(2 * time.Minute)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().ConsecutiveFailures)
}

func TestBreakerCounts(t *testing.T) {
	cb, _ := newTestBreaker(t, DefaultConfig())
	ctx := context.Background()

	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)

	assert.Equal(t, Counts{Requests: 3, TotalSuccesses: 2, TotalFailures: 1}, cb.Counts())
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cb, _ := newTestBreaker(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	err := cb.Execute(ctx, func() error {
		cancel()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())

	called := false
	err = cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestBreakerCustomClassifier(t *testing.T) {
	notFound := errors.New("not found")
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, notFound) }
	cb, _ := newTestBreaker(t, cfg)

	_ = cb.Execute(context.Background(), func() error { return notFound })
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cb, _ := newTestBreaker(t, cfg)

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerTransitionHooks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2

	type change struct{ from, to State }
	var viaConfig, viaHook []change
	cfg.OnStateChange = func(name string, from, to State) {
		assert.Equal(t, "test", name)
		viaConfig = append(viaConfig, change{from, to})
	}
	cb, _ := newTestBreaker(t, cfg)
	cb.OnTransition(func(from, to State) { viaHook = append(viaHook, change{from, to}) })

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	want := []change{{StateClosed, StateOpen}}
	assert.Equal(t, want, viaConfig)
	assert.Equal(t, want, viaHook)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(7).String())
}

func TestIsBreakerError(t *testing.T) {
	assert.True(t, IsBreakerError(ErrCircuitBreakerOpen))
	assert.True(t, IsBreakerError(ErrTooManyRequests))
	assert.False(t, IsBreakerError(errors.New("other")))
}

func TestSnapshotReportsTrackedBreakers(t *testing.T) {
	cb, _ := newTestBreaker(t, DefaultConfig())
	track("snapshot-test", "unit", cb)
	assert.Equal(t, StateClosed, Snapshot()["unit:snapshot-test"])
}
