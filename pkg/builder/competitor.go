package builder

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/graph"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/plan"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/provenance"
)

func init() {
	Register(plan.IntentCompetitor, buildCompetitor)
}

// buildCompetitor ranks each competitor's posts by likes plus comments and compares
// the accounts by average engagement.
func buildCompetitor(in *Input) *graph.Graph {
	g := graph.New()
	root := addMain(g, in.Query, in.Query)

	var competitors []map[string]any
	var top []rankedPost
	for _, s := range in.Plan.Subjects {
		p := in.subject(s)
		n := g.AddNode(profileNode(graph.GroupBrand, p))
		g.Link(root.ID, n.ID, 1)

		posts := in.posts(s)
		var total int64
		var ev []provenance.Evidence
		for _, post := range posts {
			total += post.Engagement()
			ev = append(ev, postEvidence(post))
		}
		avg := 0.0
		if len(posts) > 0 {
			avg = round2(float64(total) / float64(len(posts)))
		}
		rec := in.Tracker.Record("Competitor content", "engagement average",
			"averageEngagement = sum(likes + comments) / posts",
			[]string{fmt.Sprintf("%d posts, %d total engagement", len(posts), total)}, firstEvidence(ev))
		n.SetScore("averageEngagement", avg, rec)

		entry := map[string]any{"username": p.Username, "postCount": len(posts), "averageEngagement": avg}
		if f := count(p.FollowersCount); f > 0 {
			rate := round2(avg * 100 / float64(f))
			n.SetScore("engagementRate", rate, in.Tracker.Record("Competitor content", "engagement rate",
				"engagementRate = averageEngagement / followersCount * 100",
				[]string{fmt.Sprintf("%.2f / %d", avg, f)}, []provenance.Evidence{profileEvidence(p)}))
			entry["followersCount"] = f
			entry["engagementRate"] = rate
		}
		competitors = append(competitors, entry)
		for _, post := range posts {
			top = append(top, rankedPost{ownedPost: post, subject: s})
		}
	}

	slices.SortStableFunc(top, func(a, b rankedPost) int {
		if c := cmp.Compare(b.Engagement(), a.Engagement()); c != 0 {
			return c
		}
		return strings.Compare(a.Key(), b.Key())
	})
	if len(top) > in.topN() {
		top = top[:in.topN()]
	}

	var content []map[string]any
	for i, r := range top {
		p := r.ownedPost
		key := p.Key()
		if key == "" {
			key = fmt.Sprintf("%s.%d", p.Owner, i)
		}
		n := g.AddNode(&graph.Node{
			ID:    graph.ID("post", key),
			Label: postLabel(p),
			Group: graph.GroupSubtopic,
			Val:   graph.Val(float64(p.Engagement()), 1),
			Data: map[string]any{
				"username": p.Owner,
				"url":      postEvidence(p).URL,
				"caption":  p.Caption,
			},
		})
		n.SetScore("engagement", p.Engagement(), in.Tracker.Record("Competitor content", "engagement ranking",
			"engagement = likes + comments", []string{fmt.Sprintf("rank %d", i+1)},
			[]provenance.Evidence{postEvidence(p)}))
		n.SetScore("rank", i+1, in.Tracker.Record("Competitor content", "engagement ranking",
			"rank by engagement across all competitors", nil, []provenance.Evidence{postEvidence(p)}))
		g.Link(graph.ID("profile", r.subject), n.ID, float64(p.Engagement()))
		content = append(content, map[string]any{
			"username":      p.Owner,
			"url":           postEvidence(p).URL,
			"caption":       p.Caption,
			"engagement":    p.Engagement(),
			"likesCount":    count(p.LikesCount),
			"commentsCount": count(p.CommentsCount),
		})
	}

	g.Analytics["competitors"] = competitors
	g.Analytics["topContent"] = content
	return g
}

type rankedPost struct {
	subject string
	ownedPost
}

func postLabel(p ownedPost) string {
	c := []rune(p.Caption)
	if len(c) > 40 {
		return string(c[:40]) + "…"
	}
	if len(c) == 0 {
		return "@" + p.Owner
	}
	return string(c)
}
