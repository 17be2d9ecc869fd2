package request

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"stratoscope/pkg/cache"
	"stratoscope/pkg/logging"
	"stratoscope/pkg/tracker"
	"stratoscope/pkg/version"
)

var (
	defaultUserAgent = fmt.Sprintf("Stratoscope Constellation Monitor (stratoscope/%s)", version.Version)
)

// ClientConfig tunes the retrieval layer. Zero values fall back to
// conservative defaults.
type ClientConfig struct {
	Retries   int                // retry attempts after the first try
	Timeout   time.Duration      // per-request HTTP timeout
	BaseDelay time.Duration      // first backoff step
	MaxDelay  time.Duration      // backoff cap
	CacheTTL  time.Duration      // cache lifetime when callers pass no TTL
	Rates     map[string]float64 // requests per second per provider
}

// Client handles HTTP requests with queuing, caching, rate limiting and tracking.
type Client struct {
	httpClient *http.Client
	cache      cache.Cacher
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff
	cfg        ClientConfig

	// Queues and limiters per provider (normalized host)
	queues   map[string]chan job
	limiters map[string]*rate.Limiter
	mu       sync.Mutex // Protects queues and limiters maps
}

// job represents a queued request.
type job struct {
	req      *http.Request
	headers  map[string]string
	cacheKey string
	cacheTTL time.Duration
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// New creates a new Client.
func New(c cache.Cacher, t *tracker.Tracker, cfg ClientConfig) *Client {
	if cfg.Retries <= 0 {
		cfg.Retries = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 90 * time.Minute
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      c,
		tracker:    t,
		backoff:    NewProviderBackoff(cfg.BaseDelay, cfg.MaxDelay),
		cfg:        cfg,
		queues:     make(map[string]chan job),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Get performs a GET request with queuing and caching if key is provided.
// Cached bodies live for the configured default TTL.
func (c *Client) Get(ctx context.Context, u, cacheKey string) ([]byte, error) {
	return c.get(ctx, u, nil, cacheKey, c.cfg.CacheTTL)
}

// GetWithTTL performs a GET request caching the body for the given TTL.
func (c *Client) GetWithTTL(ctx context.Context, u, cacheKey string, ttl time.Duration) ([]byte, error) {
	return c.get(ctx, u, nil, cacheKey, ttl)
}

// GetWithHeaders performs a GET request with custom headers and optional caching.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string, cacheKey string) ([]byte, error) {
	return c.get(ctx, u, headers, cacheKey, c.cfg.CacheTTL)
}

func (c *Client) get(ctx context.Context, u string, headers map[string]string, cacheKey string, ttl time.Duration) ([]byte, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	provider := normalizeProvider(parsedURL.Host)

	// 1. Check Cache (Only if key is provided)
	if cacheKey != "" {
		if val, hit := c.cache.GetCache(ctx, cacheKey); hit {
			c.tracker.TrackCacheHit(provider)
			slog.Debug("Cache Hit", "provider", provider, "key", cacheKey)
			return val, nil
		}
		c.tracker.TrackCacheMiss(provider)
		slog.Debug("Cache Miss", "provider", provider, "key", cacheKey)
	}

	// 2. Enqueue Request
	req, err := http.NewRequestWithContext(ctx, "GET", u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	j := job{req: req, headers: headers, cacheKey: cacheKey, cacheTTL: ttl, respChan: respChan}

	c.dispatch(provider, j)

	// 3. Wait for Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

func normalizeProvider(host string) string {
	// Group feed mirrors (a., b., ...) into one "windborne" provider for serialization
	if strings.HasSuffix(host, ".windbornesystems.com") || host == "windbornesystems.com" {
		return "windborne"
	}
	if strings.HasSuffix(host, ".open-meteo.com") || host == "open-meteo.com" {
		return "open-meteo"
	}
	return host
}

// dispatch sends the job to the provider's queue, creating the queue/worker if needed.
func (c *Client) dispatch(provider string, j job) {
	c.mu.Lock()
	q, ok := c.queues[provider]
	if !ok {
		// Create new queue, limiter and worker
		q = make(chan job, 100)
		c.queues[provider] = q
		c.limiters[provider] = newLimiter(c.cfg.Rates[provider])
		go c.worker(provider, q)
	}
	c.mu.Unlock()

	// We block here if the queue is full, effectively throttling the caller
	select {
	case q <- j:
	case <-j.req.Context().Done():
		// Caller gave up before we could even enqueue
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// newLimiter builds the per-provider token bucket. Providers without a
// configured rate default to 10 req/s.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		rps = 10
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// worker processes requests for a specific provider sequentially.
func (c *Client) worker(provider string, q <-chan job) {
	c.mu.Lock()
	limiter := c.limiters[provider]
	c.mu.Unlock()

	for j := range q {
		// Check context before processing
		if j.req.Context().Err() != nil {
			slog.Warn("Job dropped from queue (context expired)", "provider", provider, "error", j.req.Context().Err())
			j.respChan <- jobResult{err: j.req.Context().Err()}
			continue
		}

		// Apply User-Agent (Default if not provided)
		uaMatch := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				uaMatch = true
			}
		}
		if !uaMatch {
			j.req.Header.Set("User-Agent", defaultUserAgent)
		}

		// Pace the provider: token bucket first, then any failure backoff
		if err := limiter.Wait(j.req.Context()); err != nil {
			j.respChan <- jobResult{err: err}
			continue
		}
		if err := c.backoff.Wait(j.req.Context(), provider); err != nil {
			j.respChan <- jobResult{err: err}
			continue
		}

		body, err := c.executeWithBackoff(j.req)

		if err == nil {
			c.backoff.RecordSuccess(provider)
			if len(body) == 0 {
				c.tracker.TrackAPIZero(provider)
			} else {
				c.tracker.TrackAPISuccess(provider)
			}
			// Cache result (Only if key is provided)
			if j.cacheKey != "" {
				if err := c.cache.SetCache(context.Background(), j.cacheKey, body, j.cacheTTL); err != nil {
					slog.Error("Failed to cache response", "url", j.req.URL, "error", err)
				}
			}
		} else {
			c.backoff.RecordFailure(provider)
			c.tracker.TrackAPIFailure(provider)
		}

		j.respChan <- jobResult{body: body, err: err}
	}
}

// executeWithBackoff attempts the request with exponential backoff on retryable errors.
func (c *Client) executeWithBackoff(req *http.Request) ([]byte, error) {
	maxAttempts := c.cfg.Retries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		// Verify context is still alive before dialing
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}

		logging.TraceDefault("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)

		if err != nil {
			// Check if the error is a context cancellation from OUR side
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}

			// Otherwise, it's a network error or server timeout
			slog.Warn("Request failed, retrying", "url", req.URL, "attempt", attempt+1, "error", err)

			if err := c.sleepBackoff(req, attempt); err != nil {
				return nil, err
			}
			continue
		}

		// Handle Status Codes
		if resp.StatusCode == 429 || (resp.StatusCode >= 500 && resp.StatusCode < 600) {
			resp.Body.Close()
			slog.Warn("API Backoff", "status", resp.StatusCode, "url", req.URL, "attempt", attempt+1)

			if err := c.sleepBackoff(req, attempt); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, fmt.Errorf("api error: status %d", resp.StatusCode)
		}

		// Success
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded")
}

// sleepBackoff sleeps the exponential delay for the given attempt, aborting
// early if the request context ends.
func (c *Client) sleepBackoff(req *http.Request, attempt int) error {
	sleepDur := time.Duration(math.Pow(2, float64(attempt))) * c.cfg.BaseDelay
	if sleepDur > c.cfg.MaxDelay {
		sleepDur = c.cfg.MaxDelay
	}

	select {
	case <-time.After(sleepDur):
		return nil
	case <-req.Context().Done():
		return req.Context().Err()
	}
}
