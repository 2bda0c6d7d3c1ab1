// Package apify runs scraper actors on the Apify platform and returns their dataset
// items as untyped records.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/httpcache"
)

// DefaultBaseURL is the public Apify API.
const DefaultBaseURL = "https://api.apify.com/v2"

// Run statuses.
const (
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// ErrNoToken is returned when the client has no API token.
var ErrNoToken = errors.New("apify: API token not configured")

// Run is the outcome of one actor run.
type Run struct {
	ActorID  string           `json:"actorId"`
	Status   string           `json:"status"`
	Items    []map[string]any `json:"items"`
	Duration time.Duration    `json:"duration"`
}

// Client calls the Apify API.
type Client struct {
	http    *httpcache.Client
	logger  *slog.Logger
	baseURL string
	token   string
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the transport used for API calls.
func WithHTTPClient(hc *httpcache.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRunTimeout sets the server-side run timeout passed to Apify.
func WithRunTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client authenticated with token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		logger:  slog.Default(),
		baseURL: DefaultBaseURL,
		token:   token,
		timeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpcache.NewClient(httpcache.WithLogger(c.logger))
	}
	return c
}

// RunActor runs actorID synchronously with input and returns its dataset items.
// Transient failures are retried by the transport. Items keep large numbers exact.
func (c *Client) RunActor(ctx context.Context, actorID string, input any) (*Run, error) {
	if c.token == "" {
		return nil, ErrNoToken
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode actor input: %w", err)
	}

	endpoint := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items?format=json&clean=true&timeout=%d",
		c.baseURL, url.PathEscape(strings.ReplaceAll(actorID, "/", "~")), int(c.timeout.Seconds()))

	c.logger.InfoContext(ctx, "running actor", "actor", actorID)
	start := time.Now()
	body, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("run actor %s: %w", actorID, err)
	}

	items, err := decodeItems(body)
	if err != nil {
		return nil, fmt.Errorf("decode items from %s: %w", actorID, err)
	}
	run := &Run{ActorID: actorID, Status: StatusSucceeded, Items: items, Duration: time.Since(start)}
	c.logger.InfoContext(ctx, "actor finished", "actor", actorID, "items", len(items), "duration", run.Duration)
	return run, nil
}

// decodeItems reads a JSON array of objects. Non-object entries are skipped.
func decodeItems(body []byte) ([]map[string]any, error) {
	d := json.NewDecoder(bytes.NewReader(body))
	d.UseNumber()
	var raw []any
	if err := d.Decode(&raw); err != nil {
		return nil, err
	}
	if _, err := d.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after item array")
	}
	items := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items, nil
}
