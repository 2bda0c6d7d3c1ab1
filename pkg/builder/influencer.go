package builder

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/graph"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/plan"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/profile"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/provenance"
)

func init() {
	Register(plan.IntentInfluencer, buildInfluencer)
}

// buildInfluencer ranks audience members and related profiles by follower count.
// Candidates without a count fill the remaining slots so they can be enriched.
func buildInfluencer(in *Input) *graph.Graph {
	g := graph.New()
	root := addMain(g, in.Query, in.Query)

	known := in.known()
	via := make(map[string][]string)
	var candidates []*profile.StandardizedProfile
	add := func(subject string, p *profile.StandardizedProfile) {
		k := p.Key()
		if k == "" || slices.Contains(in.Plan.Subjects, k) || slices.Contains(via[k], subject) {
			return
		}
		if len(via[k]) == 0 {
			if kp, ok := known[k]; ok {
				p = kp
			}
			candidates = append(candidates, p)
		}
		via[k] = append(via[k], subject)
	}
	for _, s := range in.Plan.Subjects {
		sp := in.subject(s)
		n := g.AddNode(profileNode(graph.GroupCluster, sp))
		g.Link(root.ID, n.ID, 1)
		for _, p := range in.audience(s) {
			add(s, p)
		}
		for _, r := range sp.RelatedProfiles {
			add(s, &profile.StandardizedProfile{ID: r.ID, Username: r.Username, FullName: r.FullName, IsVerified: r.IsVerified})
		}
	}

	slices.SortStableFunc(candidates, func(a, b *profile.StandardizedProfile) int {
		switch {
		case a.FollowersCount != nil && b.FollowersCount == nil:
			return -1
		case a.FollowersCount == nil && b.FollowersCount != nil:
			return 1
		}
		if c := cmp.Compare(count(b.FollowersCount), count(a.FollowersCount)); c != 0 {
			return c
		}
		return strings.Compare(a.Key(), b.Key())
	})
	if len(candidates) > in.topN() {
		candidates = candidates[:in.topN()]
	}

	var list []map[string]any
	ranked := 0
	for i, p := range candidates {
		n := g.AddNode(profileNode(graph.GroupCreator, p))
		entry := map[string]any{"username": p.Username, "fullName": p.FullName, "isVerified": p.IsVerified}
		if p.FollowersCount != nil {
			ranked++
			rec := in.Tracker.Record("Influencer identification", "follower ranking",
				"rank by followersCount, highest first",
				[]string{fmt.Sprintf("rank %d with %d followers", i+1, *p.FollowersCount)},
				[]provenance.Evidence{profileEvidence(p)})
			n.SetScore("influenceRank", i+1, rec)
			n.SetScore("reach", *p.FollowersCount, rec)
			entry["followersCount"] = *p.FollowersCount
			entry["rank"] = i + 1
		}
		for _, s := range via[p.Key()] {
			g.Link(graph.ID("profile", s), n.ID, 1)
		}
		list = append(list, entry)
	}

	g.Analytics["influencers"] = list
	g.Analytics["rankedCount"] = ranked
	if len(candidates) > ranked {
		g.Analytics["unrankedCount"] = len(candidates) - ranked
	}
	return g
}
