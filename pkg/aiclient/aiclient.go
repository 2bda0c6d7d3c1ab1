// Package aiclient asks a generative model for open-ended classifications such as topic
// extraction. Structured answers are repaired and validated against a JSON schema.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/httpcache"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/jsonfix"
)

// ErrNotConfigured is returned when no endpoint is set.
var ErrNotConfigured = errors.New("aiclient: endpoint not configured")

// Result is one classification answer.
type Result struct {
	// Text is the raw model output.
	Text string
	// JSON holds the decoded answer when a schema was given. It is an empty object when
	// nothing could be recovered.
	JSON any
	// Layer names the JSON recovery step that succeeded.
	Layer jsonfix.Layer
	// Problem is set when the decoded answer does not match the schema.
	Problem string
	Cached  bool
}

// Valid reports whether a structured answer was recovered and matched its schema.
func (r *Result) Valid() bool {
	return r.Layer != jsonfix.LayerEmpty && r.Problem == ""
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	http     *httpcache.Client
	cache    httpcache.Cacher
	logger   *slog.Logger
	schemas  sync.Map
	endpoint string
	apiKey   string
	model    string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the transport.
func WithHTTPClient(hc *httpcache.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCache caches answers by model, schema and prompt.
func WithCache(cache httpcache.Cacher) Option {
	return func(c *Client) { c.cache = cache }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client. endpoint is the API base, e.g. "https://api.openai.com/v1".
func New(endpoint, apiKey, model string, opts ...Option) *Client {
	c := &Client{
		logger:   slog.Default(),
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpcache.NewClient(httpcache.WithLogger(c.logger))
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify sends prompt to the model. With a non-empty schema the answer is requested as
// JSON, recovered with jsonfix and validated; a mismatch is reported in Result.Problem,
// not as an error. Errors are reserved for transport failures.
func (c *Client) Classify(ctx context.Context, prompt, schema string) (*Result, error) {
	if c.endpoint == "" {
		return nil, ErrNotConfigured
	}
	text, cached, err := c.complete(ctx, prompt, schema)
	if err != nil {
		return nil, err
	}
	res := &Result{Text: text, Cached: cached}
	if schema == "" {
		return res, nil
	}

	var v any
	res.Layer = jsonfix.Decode(text, &v)
	if res.Layer == jsonfix.LayerEmpty || v == nil {
		v = map[string]any{}
	}
	res.JSON = v
	if res.Layer != jsonfix.LayerStrict {
		c.logger.DebugContext(ctx, "repaired model output", "layer", res.Layer)
	}

	compiled, err := c.compile(schema)
	if err != nil {
		return nil, err
	}
	if err := compiled.Validate(v); err != nil {
		res.Problem = err.Error()
		c.logger.WarnContext(ctx, "model output does not match schema", "error", err)
	}
	return res, nil
}

func (c *Client) complete(ctx context.Context, prompt, schema string) (string, bool, error) {
	call := func(ctx context.Context) ([]byte, error) {
		req := chatRequest{Model: c.model}
		if schema != "" {
			req.Messages = append(req.Messages, chatMessage{
				Role:    "system",
				Content: "Answer with a single JSON document that validates against this JSON schema:\n" + schema,
			})
			req.ResponseFormat = &struct {
				Type string `json:"type"`
			}{Type: "json_object"}
		}
		req.Messages = append(req.Messages, chatMessage{Role: "user", Content: prompt})
		payload, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}

		body, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}
			r.Header.Set("Content-Type", "application/json")
			if c.apiKey != "" {
				r.Header.Set("Authorization", "Bearer "+c.apiKey)
			}
			return r, nil
		})
		if err != nil {
			return nil, fmt.Errorf("classify: %w", err)
		}
		var resp chatResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("classify: empty completion")
		}
		return []byte(resp.Choices[0].Message.Content), nil
	}

	if c.cache == nil {
		b, err := call(ctx)
		return string(b), false, err
	}
	fetched := false
	b, err := c.cache.GetSet(ctx, httpcache.Key("classify", c.model, schema, prompt), func(ctx context.Context) ([]byte, error) {
		fetched = true
		return call(ctx)
	}, c.cache.TTL())
	return string(b), !fetched, err
}

func (c *Client) compile(schema string) (*jsonschema.Schema, error) {
	if s, ok := c.schemas.Load(schema); ok {
		if compiled, ok := s.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	name := "response-" + httpcache.Key(schema)[:12] + ".json"
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	c.schemas.Store(schema, compiled)
	return compiled, nil
}
