// Package orchestrator runs analysis jobs: it resolves a step plan, scrapes through the
// fingerprint cache, normalizes and aggregates the records, enriches thin profiles and
// builds the final graph.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/aggregate"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/aiclient"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/apify"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/builder"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/config"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/fingerprint"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/gaps"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/graph"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/metric"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/normalize"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/plan"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/profile"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/quality"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/store"
)

// ErrCancelled is returned when a job was moved out of processing while it ran.
var ErrCancelled = errors.New("job cancelled")

// Store is the persistence the orchestrator needs. *store.Store satisfies it.
type Store interface {
	fingerprint.Store
	Ping(ctx context.Context) error
	JobStatus(ctx context.Context, id string) (store.Status, error)
	ClaimNextJob(ctx context.Context) (*store.Job, error)
	CompleteJob(ctx context.Context, id string, result, quality any) error
	FailJob(ctx context.Context, id, msg string) error
	SaveDataset(ctx context.Context, actorName string, records []map[string]any, normalized any) (string, error)
	LoadDataset(ctx context.Context, id string) (*store.Dataset, error)
}

// Scraper runs an external actor. *apify.Client satisfies it.
type Scraper interface {
	RunActor(ctx context.Context, actorID string, input any) (*apify.Run, error)
}

// TopicExtractor classifies caption text into topics. *aiclient.Client satisfies it.
type TopicExtractor interface {
	ExtractTopics(ctx context.Context, texts []string, limit int) ([]aiclient.Topic, error)
}

// Result is the outcome of one job.
type Result struct {
	Plan    *plan.Plan                       `json:"plan"`
	Graph   *graph.Graph                     `json:"graph"`
	Quality quality.Summary                  `json:"quality"`
	Scrapes []*fingerprint.ScrapeFingerprint `json:"scrapes"`
}

// Service processes jobs. Construct it once and share it.
type Service struct {
	store      Store
	scraper    Scraper
	topics     TopicExtractor
	cache      *fingerprint.Cache
	normalizer *normalize.Normalizer
	gaps       *gaps.Detector
	cfg        *config.Config
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTopicExtractor enables AI topic tagging for general jobs.
func WithTopicExtractor(t TopicExtractor) Option {
	return func(s *Service) { s.topics = t }
}

// WithGapDetector replaces the gap detector built from the configuration.
func WithGapDetector(d *gaps.Detector) Option {
	return func(s *Service) { s.gaps = d }
}

// WithNormalizer replaces the normalizer built from the configuration.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(s *Service) { s.normalizer = n }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock sets the time source for fingerprints and freshness.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service. cfg is used as given; pass config.Default() for defaults.
func New(st Store, scraper Scraper, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		store:   st,
		scraper: scraper,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = fingerprint.New(st,
		fingerprint.WithTTL(cfg.TTL),
		fingerprint.WithLogger(s.logger),
		fingerprint.WithClock(s.now))
	if s.normalizer == nil {
		s.normalizer = normalize.New(normalize.Options{
			ProxyURL:     cfg.ProxyURL,
			ProxyDomains: cfg.ProxyDomains,
			Logger:       s.logger,
		})
	}
	if s.gaps == nil {
		s.gaps = gaps.New(
			gaps.WithMinBioLength(cfg.MinBioLength),
			gaps.WithBioLinkHosts(cfg.BioLinkHosts),
			gaps.WithLogger(s.logger))
	}
	return s
}

// Process runs a claimed job and stores its outcome. A job that was failed externally
// while running returns ErrCancelled and is left as it is.
func (s *Service) Process(ctx context.Context, job *store.Job) error {
	logger := s.logger.With("job_id", job.ID)
	if err := s.store.Ping(ctx); err != nil {
		s.fail(ctx, job.ID, fmt.Errorf("store unavailable: %w", err))
		return fmt.Errorf("store unavailable: %w", err)
	}

	res, err := s.Run(ctx, job.ID, job.Query, job.Metadata)
	if errors.Is(err, ErrCancelled) {
		logger.InfoContext(ctx, "job cancelled", "error", err)
		return err
	}
	if err != nil {
		s.fail(ctx, job.ID, err)
		return err
	}

	if err := s.store.CompleteJob(ctx, job.ID, res.Graph, res.Quality); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		s.fail(ctx, job.ID, err)
		return fmt.Errorf("complete job: %w", err)
	}
	logger.InfoContext(ctx, "job completed",
		"intent", res.Plan.Intent, "nodes", len(res.Graph.Nodes), "links", len(res.Graph.Links),
		"quality", res.Quality.QualityScore, "confidence", res.Quality.ConfidenceScore)
	return nil
}

func (s *Service) fail(ctx context.Context, id string, cause error) {
	if err := s.store.FailJob(context.WithoutCancel(ctx), id, cause.Error()); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark job failed", "job_id", id, "cause", cause, "error", err)
	}
}

// Run executes query end to end. With a non-empty jobID the job status is checked
// between steps and a job that is no longer processing aborts with ErrCancelled.
// metadata may carry "intent" and "sampleSize" overrides.
func (s *Service) Run(ctx context.Context, jobID, query string, metadata map[string]any) (*Result, error) {
	p := plan.Resolve(query, s.planOptions(metadata))
	logger := s.logger.With("job_id", jobID, "intent", p.Intent)
	logger.InfoContext(ctx, "plan resolved", "subjects", p.Subjects, "hashtags", p.Hashtags, "steps", len(p.Steps))

	res := &Result{Plan: p}
	var results []builder.StepResult
	for i, step := range p.Steps {
		if err := s.checkCancelled(ctx, jobID); err != nil {
			return nil, err
		}
		r, fp, err := s.runStep(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s %s): %w", i+1, step.ActorID, step.Subject, err)
		}
		results = append(results, r)
		res.Scrapes = append(res.Scrapes, fp)
	}

	topics := s.extractTopics(ctx, p, results)

	g, err := s.build(p, results, topics)
	if err != nil {
		return nil, err
	}

	attempted := make(map[string]bool)
	for _, h := range p.Subjects {
		attempted[profile.NormalizeUsername(h)] = true
	}
	var enriched []string
	for pass := 0; pass < s.cfg.MaxEnrichPasses; pass++ {
		handles := s.pending(ctx, g, attempted)
		if len(handles) == 0 {
			break
		}
		if err := s.checkCancelled(ctx, jobID); err != nil {
			return nil, err
		}
		step := plan.EnrichStep(s.cfg.Actors, handles)
		logger.InfoContext(ctx, "enriching profiles", "pass", pass+1, "handles", len(handles))
		r, fp, err := s.runStep(ctx, step)
		if err != nil {
			// Enrichment improves a graph that already exists; losing it is not fatal.
			logger.WarnContext(ctx, "enrichment failed", "pass", pass+1, "error", err)
			g.Analytics["enrichmentError"] = err.Error()
			break
		}
		p.Steps = append(p.Steps, step)
		results = append(results, r)
		res.Scrapes = append(res.Scrapes, fp)
		enriched = append(enriched, handles...)
		if g, err = s.build(p, results, topics); err != nil {
			return nil, err
		}
	}
	if len(enriched) > 0 {
		g.Analytics["enrichedHandles"] = enriched
	}

	if err := s.checkCancelled(ctx, jobID); err != nil {
		return nil, err
	}
	res.Graph = g
	res.Quality = quality.Score(g, res.Scrapes, s.now(), quality.WithMinBioLength(s.cfg.MinBioLength))
	return res, nil
}

func (s *Service) planOptions(metadata map[string]any) plan.Options {
	opts := plan.Options{Actors: s.cfg.Actors, SampleSize: s.cfg.SampleSize}
	if v, ok := metadata["intent"].(string); ok {
		opts.Intent = plan.Intent(strings.ToLower(v))
	}
	if n := metric.ToInt(metadata["sampleSize"]); n != nil && *n > 0 {
		opts.SampleSize = int(*n)
	}
	return opts
}

// pending returns handles from g that still need a details scrape, skipping handles
// already attempted and capping at MaxEnrichHandles.
func (s *Service) pending(ctx context.Context, g *graph.Graph, attempted map[string]bool) []string {
	var out []string
	for _, h := range s.gaps.IdentifyGaps(ctx, g) {
		key := profile.NormalizeUsername(h)
		if key == "" || attempted[key] {
			continue
		}
		attempted[key] = true
		out = append(out, key)
		if s.cfg.MaxEnrichHandles > 0 && len(out) == s.cfg.MaxEnrichHandles {
			break
		}
	}
	return out
}

func (s *Service) checkCancelled(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if jobID == "" {
		return nil
	}
	st, err := s.store.JobStatus(ctx, jobID)
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	if st != store.StatusProcessing {
		return fmt.Errorf("%w: status is %s", ErrCancelled, st)
	}
	return nil
}

// runStep returns the aggregated profiles for step, reusing a fresh dataset when the
// fingerprint cache has one.
func (s *Service) runStep(ctx context.Context, step plan.Step) (builder.StepResult, *fingerprint.ScrapeFingerprint, error) {
	r := builder.StepResult{Step: step}

	if reuse, fp := s.cache.ShouldReuse(ctx, step.ActorID, step.Input, step.DataType, 0); reuse {
		ds, err := s.store.LoadDataset(ctx, fp.DatasetRef)
		if err == nil {
			r.DatasetRef = ds.ID
			r.Profiles = s.normalizeAll(ds.Records)
			return r, fp, nil
		}
		s.logger.WarnContext(ctx, "cached dataset unavailable, scraping again",
			"actor", step.ActorID, "dataset", fp.DatasetRef, "error", err)
	}

	if s.scraper == nil {
		return r, nil, apify.ErrNoToken
	}
	run, err := s.scraper.RunActor(ctx, step.ActorID, step.Input)
	if err != nil {
		return r, nil, fmt.Errorf("run actor: %w", err)
	}
	r.Profiles = s.normalizeAll(run.Items)

	ref, err := s.store.SaveDataset(ctx, step.ActorID, run.Items, r.Profiles)
	if err != nil {
		return r, nil, fmt.Errorf("save dataset: %w", err)
	}
	r.DatasetRef = ref

	meta := fingerprint.Metadata{TargetIdentity: step.Subject, DataType: step.DataType}
	fp, err := s.cache.Record(ctx, step.ActorID, step.Input, ref, len(run.Items), meta, 0)
	if err != nil {
		// The data is saved; only reuse is lost.
		s.logger.WarnContext(ctx, "fingerprint not recorded", "actor", step.ActorID, "dataset", ref, "error", err)
		now := s.now().UTC()
		fp = &fingerprint.ScrapeFingerprint{
			ActorName: step.ActorID, ExecutedAt: now, DatasetRef: ref, RecordCount: len(run.Items),
			Metadata: meta, ExpiresAt: now.Add(s.cache.TTL(step.DataType, 0)),
		}
	}
	s.logger.InfoContext(ctx, "step scraped", "actor", step.ActorID, "subject", step.Subject,
		"records", len(run.Items), "profiles", len(r.Profiles), "duration", run.Duration)
	return r, fp, nil
}

// normalizeAll normalizes records in parallel and aggregates the result. Output order
// follows the input order.
func (s *Service) normalizeAll(raws []map[string]any) []*profile.StandardizedProfile {
	out := make([]*profile.StandardizedProfile, len(raws))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, raw := range raws {
		g.Go(func() error {
			out[i] = s.normalizer.Normalize(raw)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never fail
	return aggregate.Aggregate(out)
}

// extractTopics asks the topic extractor about the captions and biographies in
// results. Only general jobs use topics; failures yield none.
func (s *Service) extractTopics(ctx context.Context, p *plan.Plan, results []builder.StepResult) []builder.Topic {
	if s.topics == nil || p.Intent != plan.IntentGeneral || s.cfg.MaxTopics == 0 {
		return nil
	}
	var texts []string
	for _, r := range results {
		for _, pr := range r.Profiles {
			if pr.Biography != "" {
				texts = append(texts, pr.Biography)
			}
			for _, post := range pr.LatestPosts {
				if post.Caption != "" {
					texts = append(texts, post.Caption)
				}
			}
		}
	}
	slices.Sort(texts)
	texts = slices.Compact(texts)

	ts, err := s.topics.ExtractTopics(ctx, texts, s.cfg.MaxTopics)
	if err != nil {
		s.logger.WarnContext(ctx, "topic extraction failed", "error", err)
		return nil
	}
	out := make([]builder.Topic, 0, len(ts))
	for _, t := range ts {
		out = append(out, builder.Topic{Name: t.Name, Weight: t.Weight, Subtopics: t.Subtopics})
	}
	return out
}

func (s *Service) build(p *plan.Plan, results []builder.StepResult, topics []builder.Topic) (*graph.Graph, error) {
	g, err := builder.Build(&builder.Input{
		Plan:    p,
		Query:   p.Query,
		Results: results,
		Topics:  topics,
		Params:  s.cfg.Params(),
	})
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}
	return g, nil
}
