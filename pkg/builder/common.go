package builder

import (
	"math"
	"slices"
	"strings"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/aggregate"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/fingerprint"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/graph"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/profile"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/provenance"
)

// maxEvidence bounds evidence entries per record.
const maxEvidence = 5

// ownedPost is a post together with the handle that published it.
type ownedPost struct {
	Owner string
	profile.Post
}

// results returns the step results whose data type is one of types. With a subject,
// only steps about that subject are returned.
func (in *Input) results(subject string, types ...string) []StepResult {
	var out []StepResult
	for _, r := range in.Results {
		if !slices.Contains(types, r.Step.DataType) {
			continue
		}
		if subject != "" && !strings.EqualFold(r.Step.Subject, subject) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// known merges every profile seen for each handle across all steps.
func (in *Input) known() map[string]*profile.StandardizedProfile {
	var all []*profile.StandardizedProfile
	for _, r := range in.Results {
		all = append(all, r.Profiles...)
	}
	out := make(map[string]*profile.StandardizedProfile)
	for _, p := range aggregate.Aggregate(all) {
		if k := p.Key(); k != "" {
			out[k] = p
		}
	}
	return out
}

// verified returns profiles that came from a details scrape, keyed by handle.
func (in *Input) verified() map[string]*profile.StandardizedProfile {
	var all []*profile.StandardizedProfile
	for _, r := range in.results("", fingerprint.DataProfile) {
		all = append(all, r.Profiles...)
	}
	out := make(map[string]*profile.StandardizedProfile)
	for _, p := range aggregate.Aggregate(all) {
		if k := p.Key(); k != "" {
			out[k] = p
		}
	}
	return out
}

// subject returns the merged profile for handle, or a bare profile when nothing was
// scraped about it.
func (in *Input) subject(handle string) *profile.StandardizedProfile {
	return lookupProfile(in.known(), handle)
}

func lookupProfile(known map[string]*profile.StandardizedProfile, handle string) *profile.StandardizedProfile {
	key := profile.NormalizeUsername(handle)
	if p, ok := known[key]; ok {
		return p
	}
	return &profile.StandardizedProfile{ID: key, Username: key}
}

// audience returns the aggregated follower and following sample for subject. Members
// that were also enriched by a details scrape carry the merged profile.
func (in *Input) audience(subject string) []*profile.StandardizedProfile {
	var all []*profile.StandardizedProfile
	for _, r := range in.results(subject, fingerprint.DataFollowers, fingerprint.DataFollowing) {
		all = append(all, r.Profiles...)
	}
	key := profile.NormalizeUsername(subject)
	known := in.known()
	var out []*profile.StandardizedProfile
	for _, p := range aggregate.Aggregate(all) {
		if p.Key() == key {
			continue
		}
		if merged, ok := known[p.Key()]; ok {
			p = merged
		}
		out = append(out, p)
	}
	return out
}

// posts returns the posts and comments from steps about subject, de-duplicated by key
// in first-seen order.
func (in *Input) posts(subject string) []ownedPost {
	var out []ownedPost
	seen := make(map[string]bool)
	for _, r := range in.results(subject, fingerprint.DataPosts, fingerprint.DataComments) {
		for _, p := range r.Profiles {
			for _, post := range p.LatestPosts {
				owner := post.OwnerUsername
				if owner == "" {
					owner = p.Username
				}
				k := post.Key()
				if k == "" {
					k = owner + "\x00" + post.Caption
				}
				if seen[k] {
					continue
				}
				seen[k] = true
				out = append(out, ownedPost{Owner: profile.NormalizeUsername(owner), Post: post})
			}
		}
	}
	return out
}

// addMain adds the root node for the query.
func addMain(g *graph.Graph, key, label string) *graph.Node {
	return g.AddNode(&graph.Node{
		ID:    graph.ID("main", key),
		Label: label,
		Group: graph.GroupMain,
		Val:   10,
		Data:  map[string]any{},
	})
}

// profileNode builds a node for p. Counts the scraper did not report are left out.
func profileNode(group graph.Group, p *profile.StandardizedProfile) *graph.Node {
	var followers float64
	if p.FollowersCount != nil {
		followers = float64(*p.FollowersCount)
	}
	label := p.Username
	if label == "" {
		label = p.FullName
	}
	return &graph.Node{
		ID:    graph.ID("profile", p.Username),
		Label: label,
		Group: group,
		Val:   graph.Val(followers, 1),
		Data:  profileData(p),
	}
}

func profileData(p *profile.StandardizedProfile) map[string]any {
	d := map[string]any{
		"username":          p.Username,
		"isVerified":        p.IsVerified,
		"isBusinessAccount": p.IsBusinessAccount,
		"isPrivate":         p.IsPrivate,
	}
	set := func(k, v string) {
		if v != "" {
			d[k] = v
		}
	}
	set("id", p.ID)
	set("fullName", p.FullName)
	set("biography", p.Biography)
	set("profilePicUrl", p.ProfilePicURL)
	set("externalUrl", p.ExternalURL)
	setCount := func(k string, v *int64) {
		if v != nil {
			d[k] = *v
		}
	}
	setCount("followersCount", p.FollowersCount)
	setCount("followsCount", p.FollowsCount)
	setCount("postsCount", p.PostsCount)
	return d
}

func profileURL(handle string) string {
	return "https://www.instagram.com/" + handle + "/"
}

func profileEvidence(p *profile.StandardizedProfile) provenance.Evidence {
	text := p.Biography
	if text == "" {
		text = p.FullName
	}
	if text == "" {
		text = "@" + p.Username
	}
	return provenance.Evidence{Text: text, URL: profileURL(p.Username), Author: p.Username}
}

func postEvidence(p ownedPost) provenance.Evidence {
	u := p.URL
	if u == "" && p.ShortCode != "" {
		u = "https://www.instagram.com/p/" + p.ShortCode + "/"
	}
	return provenance.Evidence{Text: p.Caption, URL: u, Author: p.Owner, Date: p.Timestamp}
}

func firstEvidence(ev []provenance.Evidence) []provenance.Evidence {
	if len(ev) > maxEvidence {
		return ev[:maxEvidence]
	}
	return ev
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func count(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
