// Package fetch provides the resilient HTTP lookup core shared by every
// external source client: a persistent response cache, a per-source
// concurrency limiter, and bounded retry with exponential backoff.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/venue-sync/internal/observability"
	"golang.org/x/time/rate"
)

const (
	defaultAttempts    = 3
	defaultConcurrency = 5
	defaultTimeout     = 10 * time.Second

	backoffBase = 500 * time.Millisecond
	maxBodyLog  = 512
)

// Options tune one source's client. Zero values take the defaults above.
type Options struct {
	// Concurrency bounds the number of simultaneously in-flight requests
	// for this source.
	Concurrency int

	// RatePerSec adds a request rate ceiling in front of the concurrency
	// limiter. Zero disables rate limiting.
	RatePerSec float64

	// Attempts is the total attempt budget per lookup, including the first.
	Attempts int

	// Timeout applies per request.
	Timeout time.Duration

	// IgnoreCache skips cache reads (writes still happen) so an operator can
	// force fresh responses.
	IgnoreCache bool
}

// BuildFunc constructs a fresh request for one attempt. It is called once per
// attempt because request bodies cannot be replayed.
type BuildFunc func(ctx context.Context) (*http.Request, error)

// ValidateFunc checks the structural shape of a response body before it is
// cached. A structurally invalid body is a failure, not a valid empty result.
type ValidateFunc func(body []byte) error

// Client performs cached, rate-bounded, retrying lookups against one external
// source. Construct one per source; limits are independent.
type Client struct {
	source      string
	httpClient  *http.Client
	cache       *Cache
	ignoreCache bool
	slots       chan struct{}
	limiter     *rate.Limiter
	attempts    int
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewClient creates a fetch client for the named source.
func NewClient(source string, cache *Cache, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}

	return &Client{
		source:      source,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		cache:       cache,
		ignoreCache: opts.IgnoreCache,
		slots:       make(chan struct{}, opts.Concurrency),
		limiter:     limiter,
		attempts:    opts.Attempts,
		metrics:     metrics,
		logger:      logger,
	}
}

// Lookup returns the response body for key, from cache when possible. On a
// miss it acquires a concurrency slot, issues the request with retry, runs
// validate, and appends the validated body to the cache before returning.
// A cache hit is not counted as an API call.
func (c *Client) Lookup(ctx context.Context, key string, build BuildFunc, validate ValidateFunc) (json.RawMessage, error) {
	if !c.ignoreCache {
		if body, ok := c.cache.Get(key); ok {
			c.metrics.FetchCache.WithLabelValues(c.source, "hit").Inc()
			return body, nil
		}
	}
	c.metrics.FetchCache.WithLabelValues(c.source, "miss").Inc()

	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.slots }()

	body, err := c.fetchWithRetry(ctx, build)
	if err != nil {
		c.metrics.FetchRequests.WithLabelValues(c.source, "error").Inc()
		return nil, err
	}

	if err := validate(body); err != nil {
		c.metrics.FetchRequests.WithLabelValues(c.source, "error").Inc()
		return nil, fmt.Errorf("%s: invalid response shape: %w", c.source, err)
	}

	c.metrics.FetchRequests.WithLabelValues(c.source, "success").Inc()
	c.cache.Put(key, body)
	return body, nil
}

// fetchWithRetry issues the request up to the attempt budget, backing off
// exponentially between retryable failures.
func (c *Client) fetchWithRetry(ctx context.Context, build BuildFunc) ([]byte, error) {
	backoff := backoffBase

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			c.metrics.FetchRetries.WithLabelValues(c.source).Inc()
			if !sleepWithContext(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		body, err := c.fetchOnce(ctx, build)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, err
		}
		c.logger.Warn("fetch attempt failed",
			"source", c.source,
			"attempt", attempt,
			"of", c.attempts,
			"error", err,
		)
	}

	return nil, fmt.Errorf("%s: retries exhausted: %w", c.source, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, build BuildFunc) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.source, err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.FetchDuration.WithLabelValues(c.source).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &NetworkError{Source: c.source, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyLog))
		return nil, &HTTPError{Source: c.source, Status: resp.StatusCode, Body: string(snippet)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Source: c.source, Err: err}
	}
	return body, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
