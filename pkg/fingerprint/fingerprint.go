// Package fingerprint decides whether a scrape invocation repeats recent work.
//
// A fingerprint is a pure function of the actor name and its payload. Payload object
// keys are sorted recursively before hashing, so two requests that differ only in key
// order share a fingerprint.
package fingerprint

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// Data types with their own freshness windows.
const (
	DataPosts     = "posts"
	DataFollowers = "followers"
	DataFollowing = "following"
	DataProfile   = "profile"
	DataComments  = "comments"
	DataDefault   = "default"
)

// DefaultTTL is the freshness window per data type.
var DefaultTTL = map[string]time.Duration{
	DataPosts:     24 * time.Hour,
	DataFollowers: 168 * time.Hour,
	DataFollowing: 168 * time.Hour,
	DataProfile:   720 * time.Hour,
	DataComments:  24 * time.Hour,
	DataDefault:   72 * time.Hour,
}

// Metadata describes what a scrape was about.
type Metadata struct {
	Platform       string   `json:"platform,omitempty"`
	TargetIdentity string   `json:"targetIdentity,omitempty"`
	DataType       string   `json:"dataType,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// ScrapeFingerprint identifies one completed scrape invocation. It is never mutated;
// a newer scrape of the same request supersedes it.
type ScrapeFingerprint struct {
	Fingerprint string          `json:"fingerprint"`
	ActorName   string          `json:"actorName"`
	Payload     json.RawMessage `json:"payload"`
	ExecutedAt  time.Time       `json:"executedAt"`
	DatasetRef  string          `json:"datasetRef"`
	RecordCount int             `json:"recordCount"`
	Metadata    Metadata        `json:"metadata"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

// Age returns how old the fingerprint is at now.
func (f *ScrapeFingerprint) Age(now time.Time) time.Duration {
	return now.Sub(f.ExecutedAt)
}

// Store persists fingerprints. Put must upsert by fingerprint.
// Get returns (nil, nil) when the fingerprint is unknown.
type Store interface {
	GetFingerprint(ctx context.Context, fp string) (*ScrapeFingerprint, error)
	PutFingerprint(ctx context.Context, f *ScrapeFingerprint) error
}

// Compute returns the fingerprint for an actor invocation.
func Compute(actorName string, payload any) (string, error) {
	canon, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(actorName))
	h.Write([]byte{'\n'})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Canonicalize encodes payload as JSON with every object's keys sorted.
func Canonicalize(payload any) ([]byte, error) {
	// Round-trip through the decoder so structs, maps and raw JSON all look alike.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, x[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// Cache consults and records fingerprints.
type Cache struct {
	store  Store
	ttl    map[string]time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides freshness windows per data type. Unlisted types keep their default.
func WithTTL(ttl map[string]time.Duration) Option {
	return func(c *Cache) {
		for k, v := range ttl {
			if v > 0 {
				c.ttl[k] = v
			}
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache on top of store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		ttl:    make(map[string]time.Duration, len(DefaultTTL)),
		logger: slog.Default(),
		now:    time.Now,
	}
	for k, v := range DefaultTTL {
		c.ttl[k] = v
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the freshness window for dataType. A positive override wins.
func (c *Cache) TTL(dataType string, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if d, ok := c.ttl[strings.ToLower(dataType)]; ok {
		return d
	}
	return c.ttl[DataDefault]
}

// ShouldReuse reports whether a fresh result for (actorName, payload) already exists.
// Any lookup failure is treated as a miss: an unavailable cache never blocks scraping.
func (c *Cache) ShouldReuse(ctx context.Context, actorName string, payload any, dataType string, ttlOverride time.Duration) (bool, *ScrapeFingerprint) {
	fp, err := Compute(actorName, payload)
	if err != nil {
		c.logger.WarnContext(ctx, "fingerprint compute failed, treating as miss", "actor", actorName, "error", err)
		return false, nil
	}
	if c.store == nil {
		return false, nil
	}

	prior, err := c.store.GetFingerprint(ctx, fp)
	if err != nil {
		c.logger.WarnContext(ctx, "fingerprint lookup failed, treating as miss", "actor", actorName, "fingerprint", fp, "error", err)
		return false, nil
	}
	if prior == nil {
		c.logger.DebugContext(ctx, "fingerprint miss", "actor", actorName, "fingerprint", fp)
		return false, nil
	}

	age := prior.Age(c.now())
	ttl := c.TTL(dataType, ttlOverride)
	if age > ttl {
		c.logger.InfoContext(ctx, "fingerprint stale", "actor", actorName, "fingerprint", fp,
			"age_hours", age.Hours(), "ttl_hours", ttl.Hours())
		return false, prior
	}
	c.logger.InfoContext(ctx, "fingerprint hit", "actor", actorName, "fingerprint", fp,
		"dataset", prior.DatasetRef, "age_hours", age.Hours())
	return true, prior
}

// Record persists a fingerprint for a successful scrape and returns it.
func (c *Cache) Record(ctx context.Context, actorName string, payload any, datasetRef string, recordCount int, meta Metadata, ttlOverride time.Duration) (*ScrapeFingerprint, error) {
	fp, err := Compute(actorName, payload)
	if err != nil {
		return nil, err
	}
	canon, err := Canonicalize(payload)
	if err != nil {
		return nil, err
	}
	if meta.DataType == "" {
		meta.DataType = InferDataType(actorName)
	}
	if meta.Platform == "" {
		meta.Platform = InferPlatform(actorName)
	}

	now := c.now().UTC()
	f := &ScrapeFingerprint{
		Fingerprint: fp,
		ActorName:   actorName,
		Payload:     canon,
		ExecutedAt:  now,
		DatasetRef:  datasetRef,
		RecordCount: recordCount,
		Metadata:    meta,
		ExpiresAt:   now.Add(c.TTL(meta.DataType, ttlOverride)),
	}
	if c.store == nil {
		return f, nil
	}
	if err := c.store.PutFingerprint(ctx, f); err != nil {
		return nil, fmt.Errorf("store fingerprint: %w", err)
	}
	c.logger.DebugContext(ctx, "fingerprint recorded", "actor", actorName, "fingerprint", fp,
		"dataset", datasetRef, "records", recordCount, "expires_at", f.ExpiresAt)
	return f, nil
}

// InferDataType guesses the data type from an actor name such as
// "apify/instagram-followers-scraper".
func InferDataType(actorName string) string {
	lower := strings.ToLower(actorName)
	switch {
	case strings.Contains(lower, "follower"):
		return DataFollowers
	case strings.Contains(lower, "following"):
		return DataFollowing
	case strings.Contains(lower, "comment"):
		return DataComments
	case strings.Contains(lower, "post"), strings.Contains(lower, "hashtag"), strings.Contains(lower, "reel"):
		return DataPosts
	case strings.Contains(lower, "profile"), strings.Contains(lower, "detail"):
		return DataProfile
	default:
		return DataDefault
	}
}

// InferPlatform guesses the platform from an actor name.
func InferPlatform(actorName string) string {
	lower := strings.ToLower(actorName)
	for _, p := range []string{"instagram", "tiktok", "youtube", "twitter", "threads"} {
		if strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}
