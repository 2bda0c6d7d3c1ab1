package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/aiclient"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/apify"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/config"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/graph"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/plan"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/quality"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/store"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fakeScraper struct {
	mu    sync.Mutex
	items map[string][]map[string]any // "actor|subject"
	calls []string
	err   error
	hook  func(actorID string)
}

func (f *fakeScraper) RunActor(_ context.Context, actorID string, input any) (*apify.Run, error) {
	in, _ := input.(map[string]any) //nolint:errcheck // type assertion
	key := actorID + "|" + subjectOf(in)
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()
	if f.hook != nil {
		f.hook(actorID)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &apify.Run{ActorID: actorID, Status: apify.StatusSucceeded, Items: f.items[key]}, nil
}

func (f *fakeScraper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func subjectOf(in map[string]any) string {
	for _, k := range []string{"usernames", "username", "hashtags", "directUrls"} {
		if v, ok := in[k].([]string); ok {
			return strings.Join(v, ",")
		}
	}
	return ""
}

type fakeTopics struct {
	texts []string
}

func (f *fakeTopics) ExtractTopics(_ context.Context, texts []string, _ int) ([]aiclient.Topic, error) {
	f.texts = texts
	return []aiclient.Topic{{Name: "astronomy", Weight: 0.8, Subtopics: []string{"telescopes"}}}, nil
}

func follower(name, bio string) map[string]any {
	m := map[string]any{"username": name, "followed_by_viewer": false}
	if bio != "" {
		m["biography"] = bio
	}
	return m
}

func details(name string, followers int) map[string]any {
	return map[string]any{
		"username":       name,
		"biography":      "Official page of " + name,
		"followersCount": followers,
		"followsCount":   10,
		"postsCount":     50,
	}
}

const (
	profileActor   = "apify/instagram-profile-scraper"
	followersActor = "apify/instagram-followers-scraper"
)

func comparisonScraper() *fakeScraper {
	return &fakeScraper{items: map[string][]map[string]any{
		profileActor + "|alpha":   {details("alpha", 1000)},
		profileActor + "|beta":    {details("beta", 2000)},
		followersActor + "|alpha": {follower("u1", ""), follower("u2", ""), follower("u3", "")},
		followersActor + "|beta":  {follower("u2", ""), follower("u3", ""), follower("u4", "")},
	}}
}

func newService(t *testing.T, sc Scraper, opts ...Option) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() }) //nolint:errcheck // test cleanup
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return New(st, sc, config.Default(), opts...), st
}

func TestRunReusesFreshScrapes(t *testing.T) {
	sc := comparisonScraper()
	svc, _ := newService(t, sc)
	ctx := context.Background()

	first, err := svc.Run(ctx, "", "@alpha vs @beta", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first.Plan.Intent != plan.IntentComparison {
		t.Errorf("intent = %s, want comparison", first.Plan.Intent)
	}
	if got := first.Graph.Analytics["overlapPercentage"]; got != 50.0 {
		t.Errorf("overlapPercentage = %v, want 50", got)
	}
	if sc.callCount() != 4 || len(first.Scrapes) != 4 {
		t.Fatalf("calls = %d, scrapes = %d, want 4 each", sc.callCount(), len(first.Scrapes))
	}
	if first.Quality.Freshness != 1 {
		t.Errorf("freshness = %v, want 1 for scrapes made now", first.Quality.Freshness)
	}

	second, err := svc.Run(ctx, "", "@alpha vs @beta", nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sc.callCount() != 4 {
		t.Errorf("calls after second run = %d, want 4 (all reused)", sc.callCount())
	}
	refs := func(r *Result) []string {
		var out []string
		for _, fp := range r.Scrapes {
			out = append(out, fp.DatasetRef)
		}
		return out
	}
	if diff := cmp.Diff(refs(first), refs(second)); diff != "" {
		t.Errorf("dataset refs (-first +second):\n%s", diff)
	}
	if got := second.Graph.Analytics["overlapPercentage"]; got != 50.0 {
		t.Errorf("overlapPercentage from reused datasets = %v, want 50", got)
	}
}

func TestReusedScrapesBuildSameGraph(t *testing.T) {
	const postsActor = "apify/instagram-post-scraper"
	post := func(id, likes string) map[string]any {
		return map[string]any{
			"ownerUsername": "alpha",
			"id":            json.Number(id),
			"caption":       "launch day " + id,
			"likesCount":    json.Number(likes),
			"commentsCount": json.Number("3"),
		}
	}
	sc := &fakeScraper{items: map[string][]map[string]any{
		profileActor + "|alpha": {details("alpha", 1000)},
		postsActor + "|alpha":   {post("3012345678901234567", "90"), post("3012345678901234571", "40")},
	}}
	svc, _ := newService(t, sc)
	ctx := context.Background()
	meta := map[string]any{"intent": "competitor"}

	nodeIDs := func(r *Result) []string {
		var ids []string
		for _, n := range r.Graph.Nodes {
			ids = append(ids, n.ID)
		}
		return ids
	}

	fresh, err := svc.Run(ctx, "", "@alpha", meta)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := sc.callCount()
	reused, err := svc.Run(ctx, "", "@alpha", meta)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sc.callCount() != calls {
		t.Fatalf("calls = %d after reuse, want %d", sc.callCount(), calls)
	}
	if diff := cmp.Diff(nodeIDs(fresh), nodeIDs(reused)); diff != "" {
		t.Errorf("node ids (-fresh +reused):\n%s", diff)
	}
	if reused.Graph.Node("post:id3012345678901234567") == nil {
		t.Errorf("reused graph lost the exact post id: %v", nodeIDs(reused))
	}
}

func TestRunIntentOverride(t *testing.T) {
	sc := comparisonScraper()
	svc, _ := newService(t, sc)
	res, err := svc.Run(context.Background(), "", "@alpha @beta", map[string]any{"intent": "Comparison", "sampleSize": 10.0})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Plan.Intent != plan.IntentComparison || res.Plan.SampleSize != 10 {
		t.Errorf("plan = %s/%d, want comparison/10", res.Plan.Intent, res.Plan.SampleSize)
	}
}

func TestRunEnrichesGaps(t *testing.T) {
	sc := &fakeScraper{items: map[string][]map[string]any{
		profileActor + "|alpha": {details("alpha", 1000)},
		followersActor + "|alpha": {
			follower("f1", "love @zed"),
			follower("f2", "big fan of @zed"),
			follower("f3", "@zed forever"),
		},
		profileActor + "|zed": {{
			"username": "zed", "biography": "Official zed store and news", "followersCount": 5000,
			"followsCount": 12, "postsCount": 40, "isBusinessAccount": true,
		}},
	}}
	topics := &fakeTopics{}
	svc, _ := newService(t, sc, WithTopicExtractor(topics))

	res, err := svc.Run(context.Background(), "", "@alpha", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"zed"}, res.Graph.Analytics["enrichedHandles"]); diff != "" {
		t.Errorf("enrichedHandles (-want +got):\n%s", diff)
	}
	if sc.calls[len(sc.calls)-1] != profileActor+"|zed" {
		t.Errorf("last call = %q, want details scrape of zed", sc.calls[len(sc.calls)-1])
	}
	if len(res.Plan.Steps) != 3 || len(res.Scrapes) != 3 {
		t.Errorf("steps = %d, scrapes = %d, want 3 each", len(res.Plan.Steps), len(res.Scrapes))
	}
	zed := res.Graph.Node("profile:zed")
	if zed == nil || zed.Group != graph.GroupBrand {
		t.Fatalf("profile:zed = %+v, want a brand after enrichment", zed)
	}
	if res.Graph.Node("topic:astronomy") == nil {
		t.Error("AI topic missing from graph")
	}
	if len(topics.texts) == 0 {
		t.Error("topic extractor got no texts")
	}
}

func TestWorkerCompletesJob(t *testing.T) {
	svc, st := newService(t, comparisonScraper())
	ctx := context.Background()
	job, err := st.CreateJob(ctx, "@alpha vs @beta", nil)
	if err != nil {
		t.Fatal(err)
	}

	w := NewWorker(svc, time.Millisecond)
	processed, err := w.Once(ctx)
	if err != nil || !processed {
		t.Fatalf("Once = %v, %v; want true, nil", processed, err)
	}
	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusCompleted {
		t.Fatalf("status = %s, error = %q", got.Status, got.Error)
	}
	var g struct {
		Analytics map[string]any `json:"analytics"`
	}
	if err := json.Unmarshal(got.Result, &g); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if g.Analytics["overlapPercentage"] != 50.0 {
		t.Errorf("stored overlapPercentage = %v", g.Analytics["overlapPercentage"])
	}
	var q quality.Summary
	if err := json.Unmarshal(got.Quality, &q); err != nil {
		t.Fatalf("decode quality: %v", err)
	}
	if q.QualityScore <= 0 || q.Records == 0 {
		t.Errorf("quality = %+v", q)
	}

	if processed, err := w.Once(ctx); processed || err != nil {
		t.Errorf("Once on empty queue = %v, %v", processed, err)
	}
}

func TestCancelledBetweenSteps(t *testing.T) {
	sc := comparisonScraper()
	svc, st := newService(t, sc)
	ctx := context.Background()
	job, err := st.CreateJob(ctx, "@alpha vs @beta", nil)
	if err != nil {
		t.Fatal(err)
	}
	sc.hook = func(string) {
		if err := st.FailJob(ctx, job.ID, "timed out by watchdog"); err != nil {
			t.Errorf("FailJob: %v", err)
		}
	}

	_, err = NewWorker(svc, time.Millisecond).Once(ctx)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Once error = %v, want ErrCancelled", err)
	}
	if sc.callCount() != 1 {
		t.Errorf("calls = %d, want 1", sc.callCount())
	}
	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusFailed || got.Error != "timed out by watchdog" {
		t.Errorf("job = %s %q, want the watchdog failure untouched", got.Status, got.Error)
	}
}

func TestScraperFailureFailsJob(t *testing.T) {
	sc := comparisonScraper()
	sc.err = errors.New("actor exploded")
	svc, st := newService(t, sc)
	ctx := context.Background()
	job, err := st.CreateJob(ctx, "@alpha vs @beta", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewWorker(svc, time.Millisecond).Once(ctx); err == nil {
		t.Fatal("Once succeeded with a failing scraper")
	}
	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusFailed || !strings.Contains(got.Error, "actor exploded") {
		t.Errorf("job = %s %q", got.Status, got.Error)
	}
}

type unreachable struct {
	*store.Store
}

func (unreachable) Ping(context.Context) error { return errors.New("disk gone") }

func TestUnavailableStoreFailsJob(t *testing.T) {
	sc := comparisonScraper()
	_, st := newService(t, sc)
	ctx := context.Background()
	job, err := st.CreateJob(ctx, "@alpha vs @beta", nil)
	if err != nil {
		t.Fatal(err)
	}
	svc := New(unreachable{st}, sc, config.Default())
	claimed, err := st.ClaimJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Process(ctx, claimed); err == nil {
		t.Fatal("Process succeeded without a store")
	}
	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusFailed || !strings.Contains(got.Error, "store unavailable") {
		t.Errorf("job = %s %q", got.Status, got.Error)
	}
	if sc.callCount() != 0 {
		t.Errorf("scraper called %d times", sc.callCount())
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	svc, _ := newService(t, comparisonScraper())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := NewWorker(svc, time.Millisecond).Run(ctx); err != nil {
		t.Errorf("Run = %v, want nil on cancel", err)
	}
}
