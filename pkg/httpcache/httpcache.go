// Package httpcache wraps outbound HTTP calls with bounded retry, per-host pacing and an
// optional sfcache-backed response cache with thundering herd prevention.
package httpcache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/codeGROOVE-dev/sfcache"
	"github.com/codeGROOVE-dev/sfcache/pkg/store/localfs"
	"github.com/codeGROOVE-dev/sfcache/pkg/store/null"
)

// UserAgent is sent on every request that does not set its own.
const UserAgent = "fandomgraph/1.0 (+https://github.com/codeGROOVE-dev/fandomgraph)"

// maxBody caps how much of a response is read. Scraper datasets can be large.
const maxBody = 64 << 20

// Cacher allows external cache implementations.
type Cacher interface {
	GetSet(ctx context.Context, key string, fetch func(context.Context) ([]byte, error), ttl ...time.Duration) ([]byte, error)
	TTL() time.Duration
}

// Stats tracks cache hit/miss counts.
type Stats struct {
	Hits   int64
	Misses int64
}

// Cache wraps sfcache for response caching.
type Cache struct {
	*sfcache.TieredCache[string, []byte]

	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Cache persisted under dir.
func New(dir string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	persist, err := localfs.New[string, []byte]("fandomgraph", dir)
	if err != nil {
		return nil, fmt.Errorf("create persistence layer: %w", err)
	}

	tc, err := sfcache.NewTiered[string, []byte](persist, sfcache.TTL(ttl))
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Cache{TieredCache: tc, ttl: ttl}, nil
}

// NewNull creates a Cache with no persistence. Concurrent identical fetches are still
// collapsed into one.
func NewNull() *Cache {
	tc, err := sfcache.NewTiered[string, []byte](null.New[string, []byte]())
	if err != nil {
		panic("sfcache.NewTiered with null store: " + err.Error())
	}
	return &Cache{TieredCache: tc}
}

// TTL returns the default TTL for cache entries.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Stats returns the hit/miss counts recorded by Client.Get.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Key hashes parts into a cache key.
func Key(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:])
}

// HTTPError represents a non-2xx response.
type HTTPError struct {
	URL        string
	Body       string
	StatusCode int
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// Retryable reports whether err is transient: 429, 502, 503, 504 or a network error.
// Context cancellation and request construction failures are permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	return true
}

type requestError struct{ err error }

func (e *requestError) Error() string { return "build request: " + e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// Policy bounds retries. Delays grow exponentially from Delay with up to MaxJitter added.
type Policy struct {
	Attempts  uint
	Delay     time.Duration
	MaxJitter time.Duration
}

// DefaultPolicy is used when a Client is built without WithPolicy.
var DefaultPolicy = Policy{Attempts: 4, Delay: 500 * time.Millisecond, MaxJitter: 250 * time.Millisecond}

// Client performs outbound requests.
type Client struct {
	http    *http.Client
	cache   Cacher
	stats   *Cache
	logger  *slog.Logger
	limiter *hostLimiter
	policy  Policy
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCache enables caching for Get.
func WithCache(cache Cacher) Option {
	return func(c *Client) {
		c.cache = cache
		if cc, ok := cache.(*Cache); ok {
			c.stats = cc
		}
	}
}

// WithPolicy sets the retry policy.
func WithPolicy(p Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithHostDelay sets the minimum spacing between requests to the same host.
func WithHostDelay(d time.Duration) Option {
	return func(c *Client) { c.limiter.minDelay = d }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 5 * time.Minute},
		logger:  slog.Default(),
		limiter: &hostLimiter{},
		policy:  DefaultPolicy,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy.Attempts == 0 {
		c.policy.Attempts = 1
	}
	return c
}

// Cache returns the configured cache, or nil.
func (c *Client) Cache() Cacher {
	return c.cache
}

// Do sends the request built by newReq, retrying transient failures. newReq is called
// once per attempt so request bodies are fresh. The response body is returned for 2xx
// responses; anything else is an *HTTPError.
func (c *Client) Do(ctx context.Context, newReq func(context.Context) (*http.Request, error)) ([]byte, error) {
	return retry.DoWithData(
		func() ([]byte, error) {
			req, err := newReq(ctx)
			if err != nil {
				return nil, &requestError{err: err}
			}
			if req.Header.Get("User-Agent") == "" {
				req.Header.Set("User-Agent", UserAgent)
			}
			c.limiter.wait(ctx, req.URL, c.logger)
			return c.send(req)
		},
		retry.Context(ctx),
		retry.Attempts(c.policy.Attempts),
		retry.Delay(c.policy.Delay),
		retry.MaxJitter(c.policy.MaxJitter),
		retry.RetryIf(Retryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.DebugContext(ctx, "retrying request", "attempt", n+1, "error", err)
		}),
	)
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // read-only

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.URL.Redacted(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(bytes.TrimSpace(body))
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: req.URL.Redacted(), Body: snippet}
	}
	return body, nil
}

// Get fetches rawURL with caching. HTTP and network failures are cached too so a dead
// page is not hammered on every enrichment pass.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	fetch := func(ctx context.Context) ([]byte, error) {
		return c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
			return req, nil
		})
	}
	if c.cache == nil {
		return fetch(ctx)
	}

	var fetched bool
	data, err := c.cache.GetSet(ctx, Key("get", rawURL), func(ctx context.Context) ([]byte, error) {
		fetched = true
		c.logger.DebugContext(ctx, "cache miss", "url", rawURL)
		body, err := fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			var httpErr *HTTPError
			if errors.As(err, &httpErr) {
				return fmt.Appendf(nil, "ERROR:%d", httpErr.StatusCode), nil
			}
			return fmt.Appendf(nil, "NETERR:%s", err.Error()), nil
		}
		return body, nil
	}, c.cache.TTL())
	if c.stats != nil {
		if fetched {
			c.stats.misses.Add(1)
		} else {
			c.stats.hits.Add(1)
		}
	}
	if err != nil {
		return nil, err
	}

	s := string(data)
	if code, ok := strings.CutPrefix(s, "ERROR:"); ok {
		n, _ := strconv.Atoi(code) //nolint:errcheck // 0 is acceptable
		return nil, &HTTPError{StatusCode: n, URL: rawURL}
	}
	if msg, ok := strings.CutPrefix(s, "NETERR:"); ok {
		return nil, fmt.Errorf("cached network error: %s", msg)
	}
	return data, nil
}

// hostLimiter spaces requests to the same host by at least minDelay.
type hostLimiter struct {
	lastRequest sync.Map
	mu          sync.Map
	minDelay    time.Duration
}

func (r *hostLimiter) wait(ctx context.Context, u *url.URL, logger *slog.Logger) {
	if r.minDelay <= 0 || u == nil || u.Host == "" {
		return
	}
	muI, _ := r.mu.LoadOrStore(u.Host, &sync.Mutex{})
	mu, ok := muI.(*sync.Mutex)
	if !ok {
		return
	}
	mu.Lock()
	defer mu.Unlock()

	if lastI, ok := r.lastRequest.Load(u.Host); ok {
		if last, ok := lastI.(time.Time); ok {
			if elapsed := time.Since(last); elapsed < r.minDelay {
				pause := r.minDelay - elapsed
				logger.DebugContext(ctx, "rate limit pause", "host", u.Host, "wait", pause)
				select {
				case <-ctx.Done():
				case <-time.After(pause):
				}
			}
		}
	}
	r.lastRequest.Store(u.Host, time.Now())
}
