package builder

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/graph"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/plan"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/provenance"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/textutil"
)

func init() {
	Register(plan.IntentHashtag, buildHashtag)
}

type authorStats struct {
	name       string
	evidence   []provenance.Evidence
	posts      int
	engagement int64
}

// buildHashtag counts which tags co-occur with the seed tags and which authors post
// under them most.
func buildHashtag(in *Input) *graph.Graph {
	g := graph.New()
	seeds := in.Plan.Hashtags
	if len(seeds) == 0 {
		seeds = in.Plan.Subjects
	}
	label := in.Query
	if len(seeds) > 0 {
		label = "#" + strings.Join(seeds, " #")
	}
	root := addMain(g, strings.Join(seeds, "."), label)

	related := make(map[string]int)
	relatedEv := make(map[string][]provenance.Evidence)
	authors := make(map[string]*authorStats)
	matched := 0

	for _, p := range in.posts("") {
		tags := slices.Clone(p.Hashtags)
		for _, t := range textutil.Hashtags(p.Caption) {
			if !slices.Contains(tags, t) {
				tags = append(tags, t)
			}
		}
		if !containsAny(tags, seeds) {
			continue
		}
		matched++
		for _, t := range tags {
			if slices.Contains(seeds, t) {
				continue
			}
			related[t]++
			relatedEv[t] = append(relatedEv[t], postEvidence(p))
		}
		if p.Owner == "" {
			continue
		}
		a, ok := authors[p.Owner]
		if !ok {
			a = &authorStats{name: p.Owner}
			authors[p.Owner] = a
		}
		a.posts++
		a.engagement += p.Engagement()
		a.evidence = append(a.evidence, postEvidence(p))
	}

	root.SetScore("postCount", matched, in.Tracker.Record(
		"Hashtag tracking", "count", "postCount = sampled posts carrying a seed tag",
		[]string{"seeds: #" + strings.Join(seeds, ", #")}, nil))

	tags := make([]string, 0, len(related))
	for t := range related {
		tags = append(tags, t)
	}
	slices.SortFunc(tags, func(a, b string) int {
		if c := cmp.Compare(related[b], related[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	if len(tags) > in.topN() {
		tags = tags[:in.topN()]
	}
	var relatedList []map[string]any
	for _, t := range tags {
		share := round2(float64(related[t]) * 100 / float64(matched))
		n := g.AddNode(&graph.Node{
			ID:    graph.ID("tag", t),
			Label: "#" + t,
			Group: graph.GroupTopic,
			Val:   graph.Val(float64(related[t]), 1),
		})
		rec := in.Tracker.Record("Hashtag tracking", "co-occurrence",
			"cooccurrence = seed-tagged posts also carrying the tag; share = cooccurrence / postCount * 100",
			[]string{fmt.Sprintf("%d of %d posts", related[t], matched)}, firstEvidence(relatedEv[t]))
		n.SetScore("cooccurrence", related[t], rec)
		n.SetScore("share", share, rec)
		g.Link(root.ID, n.ID, float64(related[t]))
		relatedList = append(relatedList, map[string]any{"tag": t, "count": related[t], "share": share})
	}

	ranked := make([]*authorStats, 0, len(authors))
	for _, a := range authors {
		ranked = append(ranked, a)
	}
	slices.SortFunc(ranked, func(a, b *authorStats) int {
		if c := cmp.Compare(b.posts, a.posts); c != 0 {
			return c
		}
		if c := cmp.Compare(b.engagement, a.engagement); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})
	if len(ranked) > in.topN() {
		ranked = ranked[:in.topN()]
	}
	known := in.known()
	var authorList []map[string]any
	for _, a := range ranked {
		n := g.AddNode(profileNode(graph.GroupCreator, lookupProfile(known, a.name)))
		rec := in.Tracker.Record("Hashtag tracking", "author ranking",
			"rank by posts carrying a seed tag, then by likes + comments",
			[]string{fmt.Sprintf("%d posts, %d engagement", a.posts, a.engagement)}, firstEvidence(a.evidence))
		n.SetScore("taggedPosts", a.posts, rec)
		n.SetScore("engagement", a.engagement, rec)
		g.Link(root.ID, n.ID, float64(a.posts))
		authorList = append(authorList, map[string]any{"username": a.name, "posts": a.posts, "engagement": a.engagement})
	}

	g.Analytics["seedTags"] = seeds
	g.Analytics["postCount"] = matched
	g.Analytics["relatedTags"] = relatedList
	g.Analytics["topAuthors"] = authorList
	if matched == 0 {
		g.Analytics["warnings"] = []string{"no sampled post carried a seed tag"}
	}
	return g
}

func containsAny(have, want []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}
