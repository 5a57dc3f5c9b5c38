package klaviyo

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/pkg/metrics"
)

const (
	// minAdaptiveDelay seeds the per-endpoint cooldown on the first 429.
	minAdaptiveDelay = time.Second
	// maxAdaptiveDelay caps cooldown growth under sustained 429s.
	maxAdaptiveDelay = 5 * time.Minute
)

// endpointState tracks the adaptive cooldown for one endpoint.
type endpointState struct {
	delay time.Duration
	until time.Time
}

// RateLimitManager coordinates all outbound requests: a hard cap on
// concurrency, minimum spacing between any two requests, and a
// per-endpoint cooldown that widens exponentially on 429s and decays
// on success.
type RateLimitManager struct {
	sem     chan struct{}
	spacing *rate.Limiter
	clk     clock.Clock

	mu        sync.Mutex
	endpoints map[string]*endpointState
}

// NewRateLimitManager builds a manager allowing maxConcurrent
// in-flight requests with at least minSpacing between starts.
func NewRateLimitManager(maxConcurrent int, minSpacing time.Duration, clk clock.Clock) *RateLimitManager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	limit := rate.Inf
	if minSpacing > 0 {
		limit = rate.Every(minSpacing)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimitManager{
		sem:       make(chan struct{}, maxConcurrent),
		spacing:   rate.NewLimiter(limit, 1),
		clk:       clk,
		endpoints: make(map[string]*endpointState),
	}
}

// Acquire blocks until a request to endpoint may start. The returned
// release must be called on every exit path; it is idempotent.
func (m *RateLimitManager) Acquire(ctx context.Context, endpoint string) (func(), error) {
	start := m.clk.Now()

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	release := func() {}
	var once sync.Once
	release = func() { once.Do(func() { <-m.sem }) }

	if wait := m.cooldownRemaining(endpoint); wait > 0 {
		timer := m.clk.Timer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			release()
			return nil, ctx.Err()
		}
	}

	if err := m.spacing.Wait(ctx); err != nil {
		release()
		return nil, err
	}

	metrics.UpstreamRateLimitWaitSeconds.Observe(m.clk.Since(start).Seconds())
	return release, nil
}

// ReportRateLimited widens the endpoint's cooldown after a 429. The
// upstream Retry-After, when longer than the doubled delay, wins.
func (m *RateLimitManager) ReportRateLimited(endpoint string, retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.endpoints[endpoint]
	if !ok {
		state = &endpointState{}
		m.endpoints[endpoint] = state
	}

	next := state.delay * 2
	if next < minAdaptiveDelay {
		next = minAdaptiveDelay
	}
	if retryAfter > next {
		next = retryAfter
	}
	if next > maxAdaptiveDelay {
		next = maxAdaptiveDelay
	}
	state.delay = next
	state.until = m.clk.Now().Add(next)
}

// ReportSuccess decays the endpoint's cooldown; once it falls below
// the floor the endpoint is forgotten.
func (m *RateLimitManager) ReportSuccess(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.endpoints[endpoint]
	if !ok {
		return
	}
	state.delay /= 2
	if state.delay < minAdaptiveDelay {
		delete(m.endpoints, endpoint)
		return
	}
	state.until = m.clk.Now()
}

func (m *RateLimitManager) cooldownRemaining(endpoint string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.endpoints[endpoint]
	if !ok {
		return 0
	}
	remaining := state.until.Sub(m.clk.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
