// Package biolink recognizes "link in bio" landing pages and resolves them to the
// owner's social handle.
package biolink

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/net/html"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/httpcache"
)

// DefaultHosts are landing-page services whose first path segment is the owner's handle.
var DefaultHosts = []string{
	"linktr.ee",
	"linktree.com",
	"beacons.ai",
	"lnk.bio",
	"bio.link",
	"campsite.bio",
	"hoo.be",
	"stan.store",
	"komi.io",
	"allmylinks.com",
	"solo.to",
	"tap.bio",
	"msha.ke",
	"linkin.bio",
}

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,40}$`)

// ValidHandle reports whether s, without a leading '@', is shaped like a social handle.
func ValidHandle(s string) bool {
	return handlePattern.MatchString(strings.TrimPrefix(s, "@"))
}

// HandleFromURL returns the handle in a bio-link URL such as "https://linktr.ee/astrokobi".
// Only hosts in hosts (or DefaultHosts when empty) are recognized.
func HandleFromURL(raw string, hosts []string) (string, bool) {
	if len(hosts) == 0 {
		hosts = DefaultHosts
	}
	u := parse(raw)
	if u == nil {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if !slices.Contains(hosts, host) {
		return "", false
	}
	seg, _, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
	seg = strings.TrimPrefix(seg, "@")
	if !handlePattern.MatchString(seg) {
		return "", false
	}
	return strings.ToLower(seg), true
}

func parse(raw string) *url.URL {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}
	return u
}

// Resolver fetches bio-link pages to find the owner's Instagram or TikTok handle.
type Resolver struct {
	client *httpcache.Client
	logger *slog.Logger
	hosts  []string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHosts overrides DefaultHosts.
func WithHosts(hosts []string) Option {
	return func(r *Resolver) { r.hosts = hosts }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// New creates a Resolver that fetches pages with client.
func New(client *httpcache.Client, opts ...Option) *Resolver {
	r := &Resolver{client: client, logger: slog.Default(), hosts: DefaultHosts}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the handle for a bio-link URL. When the landing page links to exactly
// one Instagram or TikTok profile, that handle wins; otherwise the URL's path segment is
// used. The second result is false when raw is not a bio-link URL.
func (r *Resolver) Resolve(ctx context.Context, raw string) (string, bool) {
	fallback, ok := HandleFromURL(raw, r.hosts)
	if !ok {
		return "", false
	}
	u := parse(raw)
	body, err := r.client.Get(ctx, u.String())
	if err != nil {
		r.logger.DebugContext(ctx, "bio link fetch failed", "url", raw, "error", err)
		return fallback, true
	}
	handles := SocialHandles(string(body))
	if len(handles) == 1 {
		return handles[0], true
	}
	return fallback, true
}

// SocialHandles returns the distinct Instagram and TikTok handles linked from a page,
// from anchors and from an embedded __NEXT_DATA__ payload.
func SocialHandles(page string) []string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil
	}
	var out []string
	add := func(link string) {
		if h := profileHandle(link); h != "" && !slices.Contains(out, h) {
			out = append(out, h)
		}
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "a":
				add(attr(n, "href"))
			case "script":
				if attr(n, "id") == "__NEXT_DATA__" && n.FirstChild != nil {
					var data any
					if json.Unmarshal([]byte(n.FirstChild.Data), &data) == nil {
						collectURLs(data, add)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func collectURLs(v any, add func(string)) {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			if s, ok := val.(string); ok && strings.EqualFold(k, "url") {
				add(s)
				continue
			}
			collectURLs(val, add)
		}
	case []any:
		for _, val := range x {
			collectURLs(val, add)
		}
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// reserved are first path segments that are site sections, not profiles.
var reserved = map[string]bool{
	"p": true, "reel": true, "reels": true, "explore": true, "stories": true, "tv": true,
	"accounts": true, "about": true, "legal": true, "tag": true, "music": true, "discover": true,
}

// profileHandle returns the handle for an Instagram or TikTok profile URL.
func profileHandle(link string) string {
	u := parse(link)
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	seg, _, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
	switch host {
	case "instagram.com", "m.instagram.com":
	case "tiktok.com", "m.tiktok.com":
		if !strings.HasPrefix(seg, "@") {
			return ""
		}
	default:
		return ""
	}
	seg = strings.ToLower(strings.TrimPrefix(seg, "@"))
	if reserved[seg] || !handlePattern.MatchString(seg) {
		return ""
	}
	return seg
}
