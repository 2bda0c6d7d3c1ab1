// Package quality summarizes how complete, relevant, fresh and well-sourced a built
// graph is.
package quality

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/fingerprint"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/graph"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/metric"
)

// Weights of each component in the quality score.
const (
	WeightCompleteness = 0.3
	WeightRelevance    = 0.2
	WeightFreshness    = 0.2
	WeightProvenance   = 0.3
)

// MinRecords is the sample size at which confidence stops being discounted.
const MinRecords = 50

// DefaultMinBioLength is the shortest biography counted as present.
const DefaultMinBioLength = 10

type options struct {
	minBioLength int
}

// Option configures Score.
type Option func(*options)

// WithMinBioLength sets the shortest biography counted as present. Values below 1 are
// ignored.
func WithMinBioLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.minBioLength = n
		}
	}
}

// Summary is attached to a completed job. Every value is in [0, 1].
type Summary struct {
	Completeness       float64 `json:"completeness"`
	Relevance          float64 `json:"relevance"`
	Freshness          float64 `json:"freshness"`
	ProvenanceCoverage float64 `json:"provenanceCoverage"`
	QualityScore       float64 `json:"qualityScore"`
	ConfidenceScore    float64 `json:"confidenceScore"`
	Records            int     `json:"records"`
}

// Score computes the summary for g built from the scrapes in fps.
//
//   - completeness: share of profile fields (followers, following, posts, biography)
//     present on profile nodes
//   - relevance: share of non-main nodes reachable from the main node
//   - freshness: mean remaining lifetime of the scrapes, 1 when just executed
//   - provenanceCoverage: share of non-main nodes carrying at least one provenance record
//
// Confidence is the quality score discounted while fewer than MinRecords records back it.
func Score(g *graph.Graph, fps []*fingerprint.ScrapeFingerprint, now time.Time, opts ...Option) Summary {
	var s Summary
	if g == nil {
		return s
	}
	o := options{minBioLength: DefaultMinBioLength}
	for _, opt := range opts {
		opt(&o)
	}
	s.Completeness = completeness(g, o.minBioLength)
	s.Relevance = relevance(g)
	s.Freshness, s.Records = freshness(fps, now)
	s.ProvenanceCoverage = coverage(g)

	q := WeightCompleteness*s.Completeness + WeightRelevance*s.Relevance +
		WeightFreshness*s.Freshness + WeightProvenance*s.ProvenanceCoverage
	s.QualityScore = round3(q)
	s.ConfidenceScore = round3(q * math.Min(1, float64(s.Records)/MinRecords))

	s.Completeness = round3(s.Completeness)
	s.Relevance = round3(s.Relevance)
	s.Freshness = round3(s.Freshness)
	s.ProvenanceCoverage = round3(s.ProvenanceCoverage)
	return s
}

func completeness(g *graph.Graph, minBio int) float64 {
	present, total := 0, 0
	for _, n := range g.Nodes {
		if n.Group == graph.GroupMain {
			continue
		}
		if _, ok := n.Data["username"]; !ok {
			continue
		}
		for _, k := range []string{"followersCount", "followsCount", "postsCount"} {
			total++
			if metric.ToInt(n.Data[k]) != nil {
				present++
			}
		}
		total++
		if bio, ok := n.Data["biography"].(string); ok && utf8.RuneCountInString(bio) >= minBio {
			present++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(present) / float64(total)
}

func relevance(g *graph.Graph) float64 {
	root := g.Main()
	if root == nil || len(g.Nodes) < 2 {
		return 0
	}
	adj := make(map[string][]string)
	for _, l := range g.Links {
		adj[l.Source] = append(adj[l.Source], l.Target)
		adj[l.Target] = append(adj[l.Target], l.Source)
	}
	seen := map[string]bool{root.ID: true}
	queue := []string{root.ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return float64(len(seen)-1) / float64(len(g.Nodes)-1)
}

func freshness(fps []*fingerprint.ScrapeFingerprint, now time.Time) (float64, int) {
	if len(fps) == 0 {
		return 0, 0
	}
	var sum float64
	records := 0
	for _, f := range fps {
		records += f.RecordCount
		ttl := f.ExpiresAt.Sub(f.ExecutedAt)
		if ttl <= 0 {
			continue
		}
		left := 1 - float64(f.Age(now))/float64(ttl)
		sum += math.Max(0, math.Min(1, left))
	}
	return sum / float64(len(fps)), records
}

func coverage(g *graph.Graph) float64 {
	covered, total := 0, 0
	for _, n := range g.Nodes {
		if n.Group == graph.GroupMain {
			continue
		}
		total++
		if n.Provenance != nil || len(n.FieldProvenance) > 0 {
			covered++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
