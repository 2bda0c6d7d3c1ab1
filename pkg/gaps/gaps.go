// Package gaps finds identities in a built graph that lack enough scraped data and
// resolves a scrapeable handle for each.
package gaps

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/biolink"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/graph"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/metric"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/profile"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/textutil"
)

// DefaultMinBioLength is the shortest biography treated as real content.
const DefaultMinBioLength = 10

// DefaultGroups are the node groups inspected for gaps.
var DefaultGroups = []graph.Group{graph.GroupCreator, graph.GroupOverindexed}

// AnalyticsLists are the analytics keys searched when the input is not graph-shaped.
var AnalyticsLists = []string{"creators", "brands", "topContent", "influencers"}

// Gap reasons.
const (
	ReasonFollowers = "followers"
	ReasonFollowing = "following"
	ReasonPosts     = "posts"
	ReasonBio       = "biography"
)

// Gap is one under-described identity.
type Gap struct {
	Handle  string   `json:"handle"`
	Label   string   `json:"label"`
	Reasons []string `json:"reasons"`
	// Via names the step that produced the handle: "biolink", "mention", "username" or "label".
	Via string `json:"via"`
}

// HandleResolver turns a bio-link URL into a handle.
type HandleResolver interface {
	Resolve(ctx context.Context, rawURL string) (string, bool)
}

// Detector identifies enrichment gaps.
type Detector struct {
	resolver     HandleResolver
	logger       *slog.Logger
	groups       []graph.Group
	hosts        []string
	minBioLength int
}

// Option configures a Detector.
type Option func(*Detector)

// WithResolver fetches bio-link pages instead of reading the URL path only.
func WithResolver(r HandleResolver) Option {
	return func(d *Detector) { d.resolver = r }
}

// WithMinBioLength sets the biography length threshold.
func WithMinBioLength(n int) Option {
	return func(d *Detector) { d.minBioLength = n }
}

// WithGroups sets which node groups are inspected.
func WithGroups(groups ...graph.Group) Option {
	return func(d *Detector) { d.groups = groups }
}

// WithBioLinkHosts overrides biolink.DefaultHosts.
func WithBioLinkHosts(hosts []string) Option {
	return func(d *Detector) { d.hosts = hosts }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

// New creates a Detector.
func New(opts ...Option) *Detector {
	d := &Detector{
		logger:       slog.Default(),
		groups:       DefaultGroups,
		hosts:        biolink.DefaultHosts,
		minBioLength: DefaultMinBioLength,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IdentifyGaps returns the de-duplicated handles needing enrichment. input may be a
// *graph.Graph, a decoded graph ({"nodes": [...]}) or an analytics object holding the
// lists named in AnalyticsLists.
func (d *Detector) IdentifyGaps(ctx context.Context, input any) []string {
	gs := d.Detect(ctx, input)
	out := make([]string, 0, len(gs))
	for _, g := range gs {
		out = append(out, g.Handle)
	}
	return out
}

// Detect is IdentifyGaps with the reasons and resolution step for each handle.
func (d *Detector) Detect(ctx context.Context, input any) []Gap {
	var items []map[string]any
	switch in := input.(type) {
	case *graph.Graph:
		if in == nil {
			return nil
		}
		for _, n := range in.Nodes {
			if n != nil && slices.Contains(d.groups, n.Group) {
				items = append(items, nodeItem(n))
			}
		}
	case map[string]any:
		if nodes, ok := in["nodes"].([]any); ok {
			for _, v := range nodes {
				m, ok := v.(map[string]any)
				if !ok {
					continue
				}
				group, _ := m["group"].(string) //nolint:errcheck // type assertion
				if slices.Contains(d.groups, graph.Group(group)) {
					items = append(items, flatten(m))
				}
			}
			break
		}
		for _, key := range AnalyticsLists {
			list, _ := in[key].([]any) //nolint:errcheck // type assertion
			for _, v := range list {
				if m, ok := v.(map[string]any); ok {
					items = append(items, flatten(m))
				}
			}
		}
	default:
		return nil
	}

	var out []Gap
	seen := make(map[string]bool)
	for _, item := range items {
		reasons := d.reasons(item)
		if len(reasons) == 0 {
			continue
		}
		label := firstString(item, "label", "name", "fullName", "username", "handle")
		handle, via := d.resolve(ctx, item, label)
		if handle == "" {
			d.logger.DebugContext(ctx, "gap without resolvable handle", "label", label)
			continue
		}
		key := strings.ToLower(handle)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Gap{Handle: key, Label: label, Reasons: reasons, Via: via})
	}
	return out
}

// reasons lists why item counts as a gap.
func (d *Detector) reasons(item map[string]any) []string {
	var rs []string
	if !positive(item, "followerCount", "followersCount", "followers") {
		rs = append(rs, ReasonFollowers)
	}
	if !positive(item, "followingCount", "followsCount", "following") {
		rs = append(rs, ReasonFollowing)
	}
	if !numeric(item, "postsCount", "posts", "mediaCount") {
		rs = append(rs, ReasonPosts)
	}
	bio := profile.CleanText(firstString(item, "biography", "bio"))
	if utf8.RuneCountInString(bio) < d.minBioLength {
		rs = append(rs, ReasonBio)
	}
	return rs
}

// resolve picks a handle: bio-link URL, then an @mention that matches the label, then
// the node's own username, then the label kept as is when it is already a handle, then
// the slugified label.
func (d *Detector) resolve(ctx context.Context, item map[string]any, label string) (string, string) {
	if ext := firstString(item, "externalUrl", "external_url", "bioLink", "website"); ext != "" {
		if d.resolver != nil {
			if h, ok := d.resolver.Resolve(ctx, ext); ok {
				return h, "biolink"
			}
		} else if h, ok := biolink.HandleFromURL(ext, d.hosts); ok {
			return h, "biolink"
		}
	}

	slug := textutil.Slugify(label)
	bio := firstString(item, "biography", "bio")
	for _, m := range textutil.Mentions(bio) {
		flat := textutil.Slugify(m)
		if slug != "" && flat != "" && (strings.Contains(flat, slug) || strings.Contains(slug, flat)) {
			return m, "mention"
		}
	}
	if u := firstString(item, "username", "handle"); biolink.ValidHandle(u) {
		return strings.ToLower(strings.TrimPrefix(u, "@")), "username"
	}
	if biolink.ValidHandle(label) {
		return strings.ToLower(strings.TrimPrefix(label, "@")), "label"
	}
	if slug != "" {
		return slug, "label"
	}
	return "", ""
}

func nodeItem(n *graph.Node) map[string]any {
	m := make(map[string]any, len(n.Data)+2)
	for k, v := range n.Data {
		m[k] = v
	}
	m["label"] = n.Label
	m["group"] = string(n.Group)
	return m
}

// flatten lifts a nested "data" object so node-shaped maps read like analytics items.
func flatten(m map[string]any) map[string]any {
	data, ok := m["data"].(map[string]any)
	if !ok {
		return m
	}
	out := make(map[string]any, len(m)+len(data))
	for k, v := range data {
		out[k] = v
	}
	for k, v := range m {
		if k != "data" {
			out[k] = v
		}
	}
	return out
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func lookup(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// positive reports whether one of keys holds a count above zero.
func positive(m map[string]any, keys ...string) bool {
	v, ok := lookup(m, keys...)
	if !ok {
		return false
	}
	n := toCount(v)
	return n != nil && *n > 0
}

// numeric reports whether one of keys holds a readable count, zero included.
func numeric(m map[string]any, keys ...string) bool {
	v, ok := lookup(m, keys...)
	return ok && toCount(v) != nil
}

func toCount(v any) *int64 {
	if p, ok := v.(*int64); ok {
		return p
	}
	return metric.ToInt(v)
}
