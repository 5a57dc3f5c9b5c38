package klaviyo

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimit_EnforcesMinSpacing(t *testing.T) {
	const spacing = 20 * time.Millisecond
	mgr := NewRateLimitManager(1, spacing, nil)

	var stamps []time.Time
	for i := 0; i < 4; i++ {
		release, err := mgr.Acquire(context.Background(), "/events")
		require.NoError(t, err)
		stamps = append(stamps, time.Now())
		release()
	}

	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		// Small tolerance for timestamping after the limiter grant.
		assert.GreaterOrEqual(t, gap, spacing-2*time.Millisecond, "gap %d was %v", i, gap)
	}
	assert.GreaterOrEqual(t, stamps[3].Sub(stamps[0]), 3*spacing-2*time.Millisecond)
}

func TestRateLimit_SemaphoreCapsConcurrency(t *testing.T) {
	mgr := NewRateLimitManager(2, 0, nil)

	rel1, err := mgr.Acquire(context.Background(), "/events")
	require.NoError(t, err)
	rel2, err := mgr.Acquire(context.Background(), "/campaigns")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = mgr.Acquire(ctx, "/metrics")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	rel1()
	rel3, err := mgr.Acquire(context.Background(), "/metrics")
	require.NoError(t, err)
	rel3()
	rel2()
}

func TestRateLimit_ReleaseIsIdempotent(t *testing.T) {
	mgr := NewRateLimitManager(2, 0, nil)

	relA, err := mgr.Acquire(context.Background(), "/events")
	require.NoError(t, err)
	relB, err := mgr.Acquire(context.Background(), "/events")
	require.NoError(t, err)

	relA()
	relA() // must not free relB's slot

	relC, err := mgr.Acquire(context.Background(), "/events")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = mgr.Acquire(ctx, "/events")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	relB()
	relC()
}

func TestRateLimit_CooldownDoublesOn429(t *testing.T) {
	mock := clock.NewMock()
	mgr := NewRateLimitManager(1, 0, mock)

	mgr.ReportRateLimited("/events", 0)
	assert.Equal(t, time.Second, mgr.cooldownRemaining("/events"))

	mgr.ReportRateLimited("/events", 0)
	assert.Equal(t, 2*time.Second, mgr.cooldownRemaining("/events"))

	mgr.ReportRateLimited("/events", 0)
	assert.Equal(t, 4*time.Second, mgr.cooldownRemaining("/events"))

	// Other endpoints are unaffected.
	assert.Equal(t, time.Duration(0), mgr.cooldownRemaining("/campaigns"))
}

func TestRateLimit_RetryAfterOverridesDoubling(t *testing.T) {
	mock := clock.NewMock()
	mgr := NewRateLimitManager(1, 0, mock)

	mgr.ReportRateLimited("/events", 45*time.Second)
	assert.Equal(t, 45*time.Second, mgr.cooldownRemaining("/events"))

	// A shorter Retry-After never shrinks the computed delay.
	mgr.ReportRateLimited("/events", time.Second)
	assert.Equal(t, 90*time.Second, mgr.cooldownRemaining("/events"))
}

func TestRateLimit_CooldownIsCapped(t *testing.T) {
	mock := clock.NewMock()
	mgr := NewRateLimitManager(1, 0, mock)

	mgr.ReportRateLimited("/events", time.Hour)
	assert.Equal(t, 5*time.Minute, mgr.cooldownRemaining("/events"))
}

func TestRateLimit_SuccessDecaysAndForgets(t *testing.T) {
	mock := clock.NewMock()
	mgr := NewRateLimitManager(1, 0, mock)

	mgr.ReportRateLimited("/events", 0)
	mgr.ReportRateLimited("/events", 0) // delay now 2s

	mgr.ReportSuccess("/events")
	mgr.mu.Lock()
	state := mgr.endpoints["/events"]
	mgr.mu.Unlock()
	require.NotNil(t, state)
	assert.Equal(t, time.Second, state.delay)

	mgr.ReportSuccess("/events")
	mgr.mu.Lock()
	_, present := mgr.endpoints["/events"]
	mgr.mu.Unlock()
	assert.False(t, present)
	assert.Equal(t, time.Duration(0), mgr.cooldownRemaining("/events"))

	// Success on an untracked endpoint is a no-op.
	mgr.ReportSuccess("/campaigns")
}

func TestRateLimit_AcquireWaitsOutCooldown(t *testing.T) {
	mock := clock.NewMock()
	mgr := NewRateLimitManager(1, 0, mock)
	mgr.ReportRateLimited("/events", 0)

	done := make(chan struct{})
	go func() {
		release, err := mgr.Acquire(context.Background(), "/events")
		assert.NoError(t, err)
		release()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Acquire returned before the cooldown elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	// Let the goroutine register its timer, then advance past the cooldown.
	mock.Add(time.Second)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not return after the cooldown elapsed")
	}
}

func TestRateLimit_AcquireCancelledWhileCoolingDown(t *testing.T) {
	mock := clock.NewMock()
	mgr := NewRateLimitManager(1, 0, mock)
	mgr.ReportRateLimited("/events", 0)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := mgr.Acquire(ctx, "/events")
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not observe cancellation")
	}

	// The slot released on the error path must be reusable.
	mgr.ReportSuccess("/events")
	release, err := mgr.Acquire(context.Background(), "/events")
	require.NoError(t, err)
	release()
}
