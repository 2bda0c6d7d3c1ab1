package builder

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/aggregate"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/graph"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/plan"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/profile"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/provenance"
)

func init() {
	Register(plan.IntentComparison, buildComparison)
}

// buildComparison links each subject to the audience members it shares with at least
// one other subject. Overlap is |intersection| / |union| * 100 over sampled audiences.
func buildComparison(in *Input) *graph.Graph {
	g := graph.New()
	root := addMain(g, in.Query, in.Query)

	subjects := in.Plan.Subjects
	members := make(map[string][]string)
	byKey := make(map[string]*profile.StandardizedProfile)
	var order []string
	sizes := make(map[string]int, len(subjects))
	var steps []string

	for _, s := range subjects {
		n := g.AddNode(profileNode(graph.GroupCreator, in.subject(s)))
		g.Link(root.ID, n.ID, 1)
		sizes[s] = 0
		for _, p := range in.audience(s) {
			k := p.Key()
			if slices.Contains(subjects, k) {
				continue
			}
			sizes[s]++
			members[k] = append(members[k], s)
			if prev, ok := byKey[k]; ok {
				byKey[k] = aggregate.Merge(prev, p)
				continue
			}
			byKey[k] = p
			order = append(order, k)
		}
		steps = append(steps, fmt.Sprintf("@%s: %d sampled audience members", s, sizes[s]))
	}

	var shared []string
	for _, k := range order {
		if len(members[k]) >= 2 {
			shared = append(shared, k)
		}
	}
	slices.SortStableFunc(shared, func(a, b string) int {
		if c := cmp.Compare(len(members[b]), len(members[a])); c != 0 {
			return c
		}
		if c := cmp.Compare(count(byKey[b].FollowersCount), count(byKey[a].FollowersCount)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	var sharedEvidence []provenance.Evidence
	for _, k := range shared {
		p := byKey[k]
		n := g.AddNode(profileNode(graph.GroupCluster, p))
		subs := members[k]
		n.SetScore("sharedBy", len(subs), in.Tracker.Record(
			"Audience overlap", "set-intersection",
			"sharedBy = number of compared audiences containing the handle",
			[]string{"present in: @" + strings.Join(subs, ", @")},
			[]provenance.Evidence{profileEvidence(p)},
		))
		for _, s := range subs {
			g.Link(graph.ID("profile", s), n.ID, 1)
		}
		sharedEvidence = append(sharedEvidence, profileEvidence(p))
	}

	union := len(order)
	overlap := 0.0
	if union > 0 {
		overlap = round2(float64(len(shared)) * 100 / float64(union))
	}
	steps = append(steps, fmt.Sprintf("%d shared of %d distinct audience members", len(shared), union))
	root.SetScore("overlapPercentage", overlap, in.Tracker.Record(
		"Audience overlap", "jaccard",
		"overlap = |intersection| / |union| * 100",
		steps, firstEvidence(sharedEvidence),
	))

	var pairs []map[string]any
	for i := range subjects {
		for j := i + 1; j < len(subjects); j++ {
			a, b := subjects[i], subjects[j]
			inter := 0
			for _, k := range order {
				if slices.Contains(members[k], a) && slices.Contains(members[k], b) {
					inter++
				}
			}
			u := sizes[a] + sizes[b] - inter
			pct := 0.0
			if u > 0 {
				pct = round2(float64(inter) * 100 / float64(u))
			}
			pairs = append(pairs, map[string]any{"a": a, "b": b, "shared": inter, "union": u, "overlapPercentage": pct})
		}
	}

	g.Analytics["overlapPercentage"] = overlap
	g.Analytics["sharedCount"] = len(shared)
	g.Analytics["unionCount"] = union
	g.Analytics["audienceSizes"] = sizes
	g.Analytics["pairs"] = pairs
	if len(subjects) < 2 {
		g.Analytics["warnings"] = []string{"comparison needs at least two subjects"}
	}
	return g
}
