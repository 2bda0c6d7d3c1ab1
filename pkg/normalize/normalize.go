// Package normalize maps raw scraper records of any known shape into a
// StandardizedProfile.
//
// Raw records carry no schema tag, so each known shape is a (detector, extractor) pair
// and the first detector that matches wins. New scraper formats are supported by adding
// a Shape, never by branching inside an existing one.
package normalize

import (
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/profile"
)

// Shape is one recognizable raw record layout.
type Shape struct {
	Name    string
	Detect  func(map[string]any) bool
	Extract func(map[string]any) *profile.StandardizedProfile
}

// Shape names.
const (
	ShapeRich    = "rich"
	ShapeDetails = "details"
	ShapeNetwork = "network"
	ShapePost    = "post"
	ShapeGeneric = "generic"
)

var richKeys = []string{"richMetadata", "rich_metadata", "userInfo", "user_info"}

// DefaultShapes returns the built-in shapes in priority order. The generic fallback is
// not included; it always runs last.
func DefaultShapes() []Shape {
	return []Shape{
		{
			Name: ShapeRich,
			Detect: func(m map[string]any) bool {
				return richObject(m) != nil
			},
			Extract: func(m map[string]any) *profile.StandardizedProfile {
				// Nested values win; top-level duplicates fill the holes.
				return profileFields(overlay(m, richObject(m)))
			},
		},
		{
			Name: ShapeDetails,
			Detect: func(m map[string]any) bool {
				return has(m, "biography", "bio", "followerCount", "followersCount", "followers_count", "edge_followed_by")
			},
			Extract: profileFields,
		},
		{
			Name: ShapeNetwork,
			Detect: func(m map[string]any) bool {
				return has(m, "username") && has(m, "followed_by_viewer", "requested_by_viewer")
			},
			Extract: func(m map[string]any) *profile.StandardizedProfile {
				full := profileFields(m)
				// Listings only carry identity fields; keep the rest unset.
				return &profile.StandardizedProfile{
					ID:             full.ID,
					Username:       full.Username,
					FullName:       full.FullName,
					ProfilePicURL:  full.ProfilePicURL,
					IsPrivate:      full.IsPrivate,
					IsVerified:     full.IsVerified,
					FollowersCount: full.FollowersCount,
					FollowsCount:   full.FollowsCount,
					PostsCount:     full.PostsCount,
				}
			},
		},
		{
			Name: ShapePost,
			Detect: func(m map[string]any) bool {
				return has(m, "ownerUsername", "ownerId")
			},
			Extract: func(m map[string]any) *profile.StandardizedProfile {
				p := &profile.StandardizedProfile{
					ID:       str(m, []string{"ownerId", "owner_id"}),
					Username: str(m, []string{"ownerUsername", "owner_username"}),
					FullName: str(m, []string{"ownerFullName", "owner_full_name"}),
				}
				if post, ok := toPost(m); ok {
					if post.OwnerUsername == "" {
						post.OwnerUsername = p.Username
					}
					p.LatestPosts = []profile.Post{post}
				}
				return p
			},
		},
	}
}

func richObject(m map[string]any) map[string]any {
	for _, k := range richKeys {
		if r := sub(m, k); r != nil {
			return r
		}
	}
	return nil
}

// generic probes every alias at the top level and inside a nested "data" object.
func generic(m map[string]any) *profile.StandardizedProfile {
	if data := sub(m, "data"); data != nil {
		// Top-level values win over the nested copy.
		return profileFields(overlay(data, m))
	}
	return profileFields(m)
}

// Options configures a Normalizer.
type Options struct {
	// ProxyURL is prefixed to the escaped picture URL when its host matches ProxyDomains.
	ProxyURL     string
	ProxyDomains []string
	// Shapes are tried before the built-in shapes.
	Shapes []Shape
	Logger *slog.Logger
}

// Normalizer converts raw records. It is safe for concurrent use.
type Normalizer struct {
	shapes       []Shape
	proxyURL     string
	proxyDomains []string
	logger       *slog.Logger
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	n := &Normalizer{
		shapes:       append(slices.Clone(opts.Shapes), DefaultShapes()...),
		proxyURL:     opts.ProxyURL,
		proxyDomains: opts.ProxyDomains,
		logger:       opts.Logger,
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	return n
}

var defaultNormalizer = New(Options{})

// Normalize converts raw with the built-in shapes and no image proxy.
func Normalize(raw map[string]any) *profile.StandardizedProfile {
	return defaultNormalizer.Normalize(raw)
}

// Normalize converts one raw record. It returns nil when the record has no usable
// identity or is a private profile with no follower signal.
func (n *Normalizer) Normalize(raw map[string]any) *profile.StandardizedProfile {
	if len(raw) == 0 {
		return nil
	}

	p, shape := n.extract(raw)
	if p == nil {
		return nil
	}
	p.Sources = []string{shape}

	if p.IsPrivate && p.FollowersCount == nil {
		n.logger.Debug("dropping private profile", "username", p.Username, "shape", shape, "error", profile.ErrPrivateNoSignal)
		return nil
	}
	if p.ID == "" {
		p.ID = p.Username
	}
	if p.ID == "" {
		n.logger.Warn("dropping record without identity", "shape", shape, "error", profile.ErrNoIdentity)
		return nil
	}
	if p.Username == "" {
		// Opaque id only. Keep it; the aggregator groups by username so it stays alone.
		n.logger.Debug("record has id but no username", "id", p.ID, "shape", shape)
	}

	p.ProfilePicURL = n.proxy(p.ProfilePicURL)
	return p
}

// Shape reports which shape raw would be parsed as.
func (n *Normalizer) Shape(raw map[string]any) string {
	for _, s := range n.shapes {
		if s.Detect(raw) {
			return s.Name
		}
	}
	return ShapeGeneric
}

func (n *Normalizer) extract(raw map[string]any) (*profile.StandardizedProfile, string) {
	for _, s := range n.shapes {
		if s.Detect(raw) {
			return s.Extract(raw), s.Name
		}
	}
	return generic(raw), ShapeGeneric
}

// NormalizeAll converts every record, dropping the ones without identity.
func (n *Normalizer) NormalizeAll(raws []map[string]any) []*profile.StandardizedProfile {
	out := make([]*profile.StandardizedProfile, 0, len(raws))
	for _, r := range raws {
		if p := n.Normalize(r); p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (n *Normalizer) proxy(raw string) string {
	if raw == "" || n.proxyURL == "" || len(n.proxyDomains) == 0 {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range n.proxyDomains {
		d = strings.ToLower(strings.TrimPrefix(d, "."))
		if host == d || strings.HasSuffix(host, "."+d) {
			return n.proxyURL + url.QueryEscape(raw)
		}
	}
	return raw
}
