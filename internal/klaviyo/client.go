// Package klaviyo implements the rate-limited, retrying JSON:API
// client for the upstream marketing platform. All outbound traffic
// funnels through one Client: concurrent identical GETs share a
// single round trip, and every request passes the process-wide rate
// limit manager and circuit breaker.
package klaviyo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/pkg/metrics"
)

const maxBodyBytes = 10 << 20 // 10MB cap on upstream payloads

// AuthSchemeAPIKey and AuthSchemeBearer select the Authorization
// header form; the upstream accepts both depending on key type.
const (
	AuthSchemeAPIKey = "klaviyo-api-key"
	AuthSchemeBearer = "bearer"
)

// Client is the upstream API client. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	authScheme string
	revision   string
	pageSize   int
	maxPages   int

	maxRetries     int
	retryBase      time.Duration
	retryFactor    float64
	retryJitter    float64
	attemptTimeout time.Duration
	totalTimeout   time.Duration

	limiter *RateLimitManager
	breaker *gobreaker.CircuitBreaker
	group   singleflight.Group
	clk     clock.Clock
	log     *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	rawCapture func(endpoint string, payload []byte)
}

// Option customizes Client construction.
type Option func(*Client)

// WithHTTPClient swaps the underlying transport (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock injects a mock clock for deterministic backoff tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clk = clk }
}

// WithLogger attaches a logger; defaults to zap.NewNop.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithRateLimitManager replaces the default manager (tests).
func WithRateLimitManager(m *RateLimitManager) Option {
	return func(c *Client) { c.limiter = m }
}

// WithRawCapture registers a hook receiving every successful response
// body, used for the raw-response audit table.
func WithRawCapture(fn func(endpoint string, payload []byte)) Option {
	return func(c *Client) { c.rawCapture = fn }
}

// New builds a Client from configuration.
func New(cfg config.KlaviyoConfig, opts ...Option) *Client {
	c := &Client{
		httpClient:     &http.Client{},
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		authScheme:     cfg.AuthScheme,
		revision:       cfg.Revision,
		pageSize:       cfg.PageSize,
		maxPages:       cfg.MaxPages,
		maxRetries:     cfg.MaxRetries,
		retryBase:      time.Duration(cfg.RetryBaseMS) * time.Millisecond,
		retryFactor:    cfg.RetryFactor,
		retryJitter:    cfg.RetryJitter,
		attemptTimeout: time.Duration(cfg.AttemptTimeoutSec) * time.Second,
		totalTimeout:   time.Duration(cfg.TotalTimeoutSec) * time.Second,
		clk:            clock.New(),
		log:            zap.NewNop(),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = NewRateLimitManager(cfg.MaxConcurrent, time.Duration(cfg.MinSpacingMS)*time.Millisecond, c.clk)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "klaviyo",
		MaxRequests: 1,
		Timeout:     time.Duration(cfg.BreakerCooldownSec) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerThreshold)
		},
	})
	return c
}

// DefaultPageSize is the configured page[size] for paginated fetches.
func (c *Client) DefaultPageSize() int { return c.pageSize }

// Get performs an authenticated GET. Concurrent calls with the same
// canonical URL share a single round trip; duplicate callers receive
// the first caller's result, including its failure if that caller's
// context is cancelled mid-flight.
func (c *Client) Get(ctx context.Context, path string, params Params) (*Response, error) {
	fullURL := c.buildURL(path, params)
	endpoint := normalizeEndpoint(path)

	v, err, _ := c.group.Do(fullURL, func() (any, error) {
		return c.doWithRetry(ctx, fullURL, endpoint)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

func (c *Client) buildURL(path string, params Params) string {
	u := c.baseURL + "/" + strings.Trim(path, "/") + "/"
	if qs := params.Encode(); qs != "" {
		u += "?" + qs
	}
	return u
}

// normalizeEndpoint reduces a path to its first segment so limiter
// and metric labels stay low-cardinality.
func normalizeEndpoint(path string) string {
	trimmed := strings.Trim(path, "/")
	if i := strings.IndexByte(trimmed, '/'); i > 0 {
		trimmed = trimmed[:i]
	}
	return "/" + trimmed
}

func (c *Client) doWithRetry(ctx context.Context, fullURL, endpoint string) (*Response, error) {
	if c.totalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.totalTimeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.attempt(ctx, fullURL, endpoint)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		if attempt == c.maxRetries {
			break
		}

		delay := c.backoff(attempt)
		if apiErr, ok := AsAPIError(err); ok && apiErr.RetryAfter > delay {
			delay = apiErr.RetryAfter
		}
		c.log.Warn("retrying upstream request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		timer := c.clk.Timer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("upstream request failed after %d attempts: %w", c.maxRetries, lastErr)
}

// backoff computes the delay before the next attempt: exponential in
// the configured factor with symmetric jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.retryBase)
	for i := 1; i < attempt; i++ {
		d *= c.retryFactor
	}
	c.rngMu.Lock()
	jitter := 1 + c.retryJitter*(2*c.rng.Float64()-1)
	c.rngMu.Unlock()
	return time.Duration(d * jitter)
}

type rawResult struct {
	status     int
	body       []byte
	retryAfter string
}

func (c *Client) attempt(ctx context.Context, fullURL, endpoint string) (*Response, error) {
	release, err := c.limiter.Acquire(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer release()

	attemptCtx := ctx
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	start := c.clk.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		return c.roundTrip(attemptCtx, fullURL)
	})
	metrics.UpstreamRequestDurationSeconds.WithLabelValues(endpoint).Observe(c.clk.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.UpstreamRequestTotal.WithLabelValues(endpoint, "breaker_open").Inc()
			return nil, &APIError{Kind: KindServer, Detail: "circuit breaker open"}
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			metrics.UpstreamRequestTotal.WithLabelValues(endpoint, string(apiErr.Kind)).Inc()
			return nil, apiErr
		}
		return nil, err
	}

	rr := result.(*rawResult)
	switch {
	case rr.status >= 200 && rr.status < 300:
		c.limiter.ReportSuccess(endpoint)
		metrics.UpstreamRequestTotal.WithLabelValues(endpoint, "ok").Inc()
		if c.rawCapture != nil {
			c.rawCapture(endpoint, rr.body)
		}
		var out Response
		if err := json.Unmarshal(rr.body, &out); err != nil {
			return nil, &APIError{
				Kind:   KindValidation,
				Status: rr.status,
				Detail: fmt.Sprintf("malformed json:api payload: %v (body %q)", err, snippet(rr.body)),
			}
		}
		return &out, nil
	case rr.status == 429:
		retryAfter := parseRetryAfter(rr.retryAfter, c.clk.Now())
		c.limiter.ReportRateLimited(endpoint, retryAfter)
		metrics.UpstreamRequestTotal.WithLabelValues(endpoint, string(KindRateLimit)).Inc()
		return nil, classifyStatus(rr.status, rr.body, retryAfter)
	default:
		apiErr := classifyStatus(rr.status, rr.body, 0)
		metrics.UpstreamRequestTotal.WithLabelValues(endpoint, string(apiErr.Kind)).Inc()
		return nil, apiErr
	}
}

// roundTrip performs one HTTP exchange. Transport failures and 5xx
// statuses are returned as errors so the circuit breaker counts them;
// all other statuses are successes to the breaker and classified by
// the caller.
func (c *Client) roundTrip(ctx context.Context, fullURL string) (*rawResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &APIError{Kind: KindValidation, Detail: fmt.Sprintf("building request: %v", err)}
	}
	if c.authScheme == AuthSchemeBearer {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	} else {
		req.Header.Set("Authorization", "Klaviyo-API-Key "+c.apiKey)
	}
	req.Header.Set("revision", c.revision)
	req.Header.Set("Accept", "application/vnd.api+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &APIError{Kind: KindTimeout, Detail: err.Error()}
		}
		return nil, &APIError{Kind: KindNetwork, Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &APIError{Kind: KindNetwork, Detail: fmt.Sprintf("reading response body: %v", err)}
	}

	if resp.StatusCode >= 500 {
		return nil, classifyStatus(resp.StatusCode, body, 0)
	}
	return &rawResult{
		status:     resp.StatusCode,
		body:       body,
		retryAfter: resp.Header.Get("Retry-After"),
	}, nil
}

func snippet(body []byte) string {
	const n = 200
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
