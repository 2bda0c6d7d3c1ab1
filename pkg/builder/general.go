package builder

import (
	"errors"
	"fmt"
	"slices"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/graph"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/overindex"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/plan"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/profile"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/provenance"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/textutil"
)

func init() {
	Register(plan.IntentGeneral, buildGeneral)
}

// affinities returns the accounts a sampled audience member points at: bio mentions,
// related profiles and accounts mentioned in their posts.
func affinities(p *profile.StandardizedProfile) []string {
	keys := textutil.Mentions(p.Biography)
	for _, r := range p.RelatedProfiles {
		keys = append(keys, r.Username)
	}
	for _, post := range p.LatestPosts {
		keys = append(keys, post.Mentions...)
	}
	self := p.Key()
	return slices.DeleteFunc(keys, func(k string) bool { return profile.NormalizeUsername(k) == self })
}

// interests returns the hashtags an audience member uses.
func interests(p *profile.StandardizedProfile) []string {
	tags := textutil.Hashtags(p.Biography)
	for _, post := range p.LatestPosts {
		tags = append(tags, post.Hashtags...)
	}
	return tags
}

func groupFor(c overindex.Category) graph.Group {
	switch c {
	case overindex.CategoryCreator:
		return graph.GroupCreator
	case overindex.CategoryBrand:
		return graph.GroupBrand
	case overindex.CategoryTopic:
		return graph.GroupTopic
	default:
		return graph.GroupOverindexed
	}
}

// buildGeneral maps what a subject's audience over-indexes on: accounts they point at
// and hashtags they use. Externally classified topics are added when present.
func buildGeneral(in *Input) *graph.Graph {
	g := graph.New()
	key, label := in.Query, in.Query
	if len(in.Plan.Subjects) == 1 {
		key, label = in.Plan.Subjects[0], "@"+in.Plan.Subjects[0]
	}
	root := addMain(g, key, label)
	for _, s := range in.Plan.Subjects {
		if len(in.Plan.Subjects) > 1 {
			n := g.AddNode(profileNode(graph.GroupCluster, in.subject(s)))
			g.Link(root.ID, n.ID, 1)
		}
	}

	var audience []*profile.StandardizedProfile
	seen := make(map[string]bool)
	for _, s := range in.Plan.Subjects {
		for _, p := range in.audience(s) {
			if !seen[p.Key()] {
				seen[p.Key()] = true
				audience = append(audience, p)
			}
		}
	}

	accountSamples := make([][]string, len(audience))
	tagSamples := make([][]string, len(audience))
	for i, p := range audience {
		accountSamples[i] = affinities(p)
		tagSamples[i] = interests(p)
	}
	params := overindex.Params{
		SampleSize:   len(audience),
		BaselineRate: in.Params.BaselineRate,
		MinFrequency: in.Params.MinFrequency,
	}
	var warnings []string

	accounts, err := overindex.Score(overindex.Count(accountSamples), params)
	if errors.Is(err, overindex.ErrInsufficientSignal) {
		warnings = append(warnings, "no account reached the minimum frequency in the audience sample")
	}
	accounts = overindex.Top(overindex.Classify(accounts, in.verified()), in.topN())

	known := in.known()
	var creators, brands, others []map[string]any
	for _, e := range accounts {
		if slices.Contains(in.Plan.Subjects, e.Name) {
			continue
		}
		n := g.AddNode(profileNode(groupFor(e.Category), lookupProfile(known, e.Name)))
		rec := in.Tracker.Record("Audience over-indexing", "overindex",
			"overindexScore = (frequency / sampleSize * 100) / baselineRate",
			[]string{fmt.Sprintf("%d of %d sampled followers point at @%s", e.Frequency, len(audience), e.Name)},
			firstEvidence(pointers(audience, accountSamples, e.Name)))
		n.SetScore("overindexScore", round2(e.OverindexScore), rec)
		n.SetScore("percentage", round2(e.Percentage), rec)
		n.SetScore("frequency", e.Frequency, rec)
		n.Data["category"] = string(e.Category)
		g.Link(root.ID, n.ID, round2(e.OverindexScore))

		item := map[string]any{
			"name":           e.Name,
			"frequency":      e.Frequency,
			"percentage":     round2(e.Percentage),
			"overindexScore": round2(e.OverindexScore),
			"category":       string(e.Category),
		}
		for k, v := range n.Data {
			if _, ok := item[k]; !ok {
				item[k] = v
			}
		}
		switch e.Category {
		case overindex.CategoryCreator:
			creators = append(creators, item)
		case overindex.CategoryBrand:
			brands = append(brands, item)
		default:
			others = append(others, item)
		}
	}

	var topicList []map[string]any
	if len(in.Topics) > 0 {
		for _, t := range in.Topics {
			n := g.AddNode(&graph.Node{
				ID:    graph.ID("topic", t.Name),
				Label: t.Name,
				Group: graph.GroupTopic,
				Val:   graph.Val(t.Weight*100, 1),
			})
			n.SetScore("weight", round2(t.Weight), in.Tracker.Record("Audience topics", "ai-classification",
				"weight assigned by the classification model", t.Subtopics, nil))
			g.Link(root.ID, n.ID, round2(t.Weight))
			for _, st := range t.Subtopics {
				sn := g.AddNode(&graph.Node{
					ID:    graph.ID("subtopic", t.Name+"."+st),
					Label: st,
					Group: graph.GroupSubtopic,
					Val:   1,
				})
				g.Link(n.ID, sn.ID, 1)
			}
			topicList = append(topicList, map[string]any{"name": t.Name, "weight": round2(t.Weight), "subtopics": t.Subtopics, "source": "ai"})
		}
	} else {
		tags, err := overindex.Score(overindex.Count(tagSamples), params)
		if errors.Is(err, overindex.ErrInsufficientSignal) {
			warnings = append(warnings, "no hashtag reached the minimum frequency in the audience sample")
		}
		for _, e := range overindex.Top(tags, in.topN()) {
			n := g.AddNode(&graph.Node{
				ID:    graph.ID("topic", e.Name),
				Label: "#" + e.Name,
				Group: graph.GroupTopic,
				Val:   graph.Val(float64(e.Frequency), 1),
			})
			rec := in.Tracker.Record("Audience topics", "overindex",
				"overindexScore = (frequency / sampleSize * 100) / baselineRate",
				[]string{fmt.Sprintf("%d of %d sampled followers use #%s", e.Frequency, len(audience), e.Name)},
				firstEvidence(pointers(audience, tagSamples, e.Name)))
			n.SetScore("overindexScore", round2(e.OverindexScore), rec)
			n.SetScore("frequency", e.Frequency, rec)
			g.Link(root.ID, n.ID, round2(e.OverindexScore))
			topicList = append(topicList, map[string]any{"name": e.Name, "frequency": e.Frequency, "overindexScore": round2(e.OverindexScore), "source": "hashtags"})
		}
	}

	g.Analytics["sampleSize"] = len(audience)
	g.Analytics["creators"] = creators
	g.Analytics["brands"] = brands
	g.Analytics["overindexed"] = others
	g.Analytics["topics"] = topicList
	g.Analytics["unclassified"] = overindex.Unknown(accounts)
	if len(audience) == 0 {
		warnings = append(warnings, "no audience sample to score")
	}
	if len(warnings) > 0 {
		g.Analytics["warnings"] = warnings
	}
	return g
}

// pointers returns evidence from the audience members whose sample contains name.
func pointers(audience []*profile.StandardizedProfile, samples [][]string, name string) []provenance.Evidence {
	var ev []provenance.Evidence
	for i, keys := range samples {
		for _, k := range keys {
			if profile.NormalizeUsername(k) == name {
				ev = append(ev, profileEvidence(audience[i]))
				break
			}
		}
		if len(ev) == maxEvidence {
			break
		}
	}
	return ev
}
