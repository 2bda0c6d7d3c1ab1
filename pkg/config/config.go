// Package config loads the service configuration from an optional YAML file, an
// optional .env file and FANDOM_* environment variables, in that order of precedence
// from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/apify"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/biolink"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/builder"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/fingerprint"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/gaps"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/httpcache"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/overindex"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/plan"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "FANDOM"

// Config is the explicit configuration passed to every component.
type Config struct {
	DBPath   string        `yaml:"db_path" envconfig:"DB_PATH"`
	CacheDir string        `yaml:"cache_dir" envconfig:"CACHE_DIR"`
	CacheTTL time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`

	ApifyToken   string        `yaml:"apify_token" envconfig:"APIFY_TOKEN"`
	ApifyBaseURL string        `yaml:"apify_base_url" envconfig:"APIFY_BASE_URL"`
	ActorTimeout time.Duration `yaml:"actor_timeout" envconfig:"ACTOR_TIMEOUT"`
	Actors       plan.Actors   `yaml:"actors" envconfig:"ACTOR"`

	AIEndpoint string `yaml:"ai_endpoint" envconfig:"AI_ENDPOINT"`
	AIKey      string `yaml:"ai_key" envconfig:"AI_KEY"`
	AIModel    string `yaml:"ai_model" envconfig:"AI_MODEL"`
	MaxTopics  int    `yaml:"max_topics" envconfig:"MAX_TOPICS"`

	// TTL overrides fingerprint freshness per data type, e.g. FANDOM_TTL="posts:12h".
	TTL          map[string]time.Duration `yaml:"ttl" envconfig:"TTL"`
	SampleSize   int                      `yaml:"sample_size" envconfig:"SAMPLE_SIZE"`
	MinFrequency int                      `yaml:"min_frequency" envconfig:"MIN_FREQUENCY"`
	BaselineRate float64                  `yaml:"baseline_rate" envconfig:"BASELINE_RATE"`
	MinBioLength int                      `yaml:"min_bio_length" envconfig:"MIN_BIO_LENGTH"`
	TopN         int                      `yaml:"top_n" envconfig:"TOP_N"`
	Lexicon      builder.Lexicon          `yaml:"lexicon" ignored:"true"`

	BioLinkHosts    []string `yaml:"bio_link_hosts" envconfig:"BIO_LINK_HOSTS"`
	ResolveBioLinks bool     `yaml:"resolve_bio_links" envconfig:"RESOLVE_BIO_LINKS"`
	ProxyURL        string   `yaml:"proxy_url" envconfig:"PROXY_URL"`
	ProxyDomains    []string `yaml:"proxy_domains" envconfig:"PROXY_DOMAINS"`

	RetryAttempts    uint          `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS"`
	RetryDelay       time.Duration `yaml:"retry_delay" envconfig:"RETRY_DELAY"`
	PollInterval     time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	MaxEnrichPasses  int           `yaml:"max_enrich_passes" envconfig:"MAX_ENRICH_PASSES"`
	MaxEnrichHandles int           `yaml:"max_enrich_handles" envconfig:"MAX_ENRICH_HANDLES"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cacheDir := ".cache"
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, "fandomgraph")
	}
	return &Config{
		DBPath:           "fandomgraph.db",
		CacheDir:         cacheDir,
		CacheTTL:         7 * 24 * time.Hour,
		ApifyBaseURL:     apify.DefaultBaseURL,
		ActorTimeout:     5 * time.Minute,
		Actors:           plan.DefaultActors,
		AIModel:          "gpt-4o-mini",
		MaxTopics:        8,
		TTL:              maps.Clone(fingerprint.DefaultTTL),
		SampleSize:       plan.DefaultSampleSize,
		MinFrequency:     overindex.DefaultMinFrequency,
		BaselineRate:     overindex.DefaultBaselineRate,
		MinBioLength:     gaps.DefaultMinBioLength,
		TopN:             builder.DefaultTopN,
		Lexicon:          builder.DefaultLexicon,
		BioLinkHosts:     slices.Clone(biolink.DefaultHosts),
		ProxyDomains:     []string{"cdninstagram.com", "fbcdn.net", "tiktokcdn.com"},
		RetryAttempts:    httpcache.DefaultPolicy.Attempts,
		RetryDelay:       httpcache.DefaultPolicy.Delay,
		PollInterval:     5 * time.Second,
		MaxEnrichPasses:  1,
		MaxEnrichHandles: 25,
	}
}

// LoadDotEnv loads path into the environment without overriding variables that are
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the YAML file at path, when given, over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	// Partial TTL tables only override the data types they name.
	for k, v := range fingerprint.DefaultTTL {
		if _, ok := cfg.TTL[k]; !ok {
			if cfg.TTL == nil {
				cfg.TTL = make(map[string]time.Duration)
			}
			cfg.TTL[k] = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate reports every impossible value.
func (c *Config) Validate() error {
	var errs []error
	check := func(bad bool, format string, args ...any) {
		if bad {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(strings.TrimSpace(c.DBPath) == "", "db_path is required")
	check(c.CacheTTL < 0, "cache_ttl must be >= 0")
	check(c.ActorTimeout <= 0, "actor_timeout must be > 0")
	check(c.SampleSize < 1, "sample_size must be >= 1")
	check(c.MinFrequency < 1, "min_frequency must be >= 1")
	check(c.BaselineRate <= 0, "baseline_rate must be > 0")
	check(c.MinBioLength < 0, "min_bio_length must be >= 0")
	check(c.TopN < 1, "top_n must be >= 1")
	check(c.RetryAttempts < 1, "retry_attempts must be >= 1")
	check(c.RetryDelay < 0, "retry_delay must be >= 0")
	check(c.PollInterval <= 0, "poll_interval must be > 0")
	check(c.MaxEnrichPasses < 0, "max_enrich_passes must be >= 0")
	check(c.MaxEnrichHandles < 0, "max_enrich_handles must be >= 0")
	check(c.MaxTopics < 0, "max_topics must be >= 0")
	check(c.AIEndpoint != "" && c.AIModel == "", "ai_model is required with ai_endpoint")
	for _, k := range slices.Sorted(maps.Keys(c.TTL)) {
		check(c.TTL[k] <= 0, "ttl[%s] must be > 0", k)
	}
	if c.ProxyURL != "" {
		u, err := url.Parse(c.ProxyURL)
		check(err != nil || u.Scheme == "" || u.Host == "", "proxy_url %q is not an absolute URL", c.ProxyURL)
	}
	return errors.Join(errs...)
}

// Policy returns the retry policy for outbound calls.
func (c *Config) Policy() httpcache.Policy {
	p := httpcache.DefaultPolicy
	p.Attempts = c.RetryAttempts
	p.Delay = c.RetryDelay
	return p
}

// Params returns the builder thresholds.
func (c *Config) Params() builder.Params {
	return builder.Params{
		Lexicon:      c.Lexicon,
		MinFrequency: c.MinFrequency,
		BaselineRate: c.BaselineRate,
		TopN:         c.TopN,
	}
}
