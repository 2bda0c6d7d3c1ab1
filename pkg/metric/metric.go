// Package metric extracts follower, following and post counts from raw scraper records
// of unknown shape.
package metric

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Kind names a semantic metric.
type Kind string

// Supported metric kinds.
const (
	Followers Kind = "followers"
	Following Kind = "following"
	Posts     Kind = "posts"
)

// Aliases maps each metric to the field paths observed across scraper schemas, in the
// order they are tried. A dot separates nested object keys.
var Aliases = map[Kind][]string{
	Followers: {
		"followersCount",
		"followers_count",
		"followerCount",
		"follower_count",
		"edge_followed_by.count",
		"edgeFollowedBy.count",
		"stats.followerCount",
		"stats.followers",
		"followers",
	},
	Following: {
		"followsCount",
		"follows_count",
		"followingCount",
		"following_count",
		"followeeCount",
		"edge_follow.count",
		"edgeFollow.count",
		"stats.followingCount",
		"stats.following",
		"following",
		"follows",
	},
	Posts: {
		"postsCount",
		"posts_count",
		"postCount",
		"post_count",
		"mediaCount",
		"media_count",
		"edge_owner_to_timeline_media.count",
		"edgeOwnerToTimelineMedia.count",
		"stats.videoCount",
		"stats.postCount",
		"posts",
	},
}

// Extract returns the first metric value found in record under one of the aliases for
// kind. It returns nil when no alias is present or the located value cannot be read as
// a number. Extract never panics.
func Extract(record map[string]any, kind Kind) *int64 {
	if record == nil {
		return nil
	}
	for _, path := range Aliases[kind] {
		v, ok := Lookup(record, path)
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			// Lists of followers and nested objects are not counts.
			continue
		}
		return ToInt(v)
	}
	return nil
}

// Lookup resolves a dotted path inside nested maps.
func Lookup(record map[string]any, path string) (any, bool) {
	cur := any(record)
	for part := range strings.SplitSeq(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ToInt converts a decoded JSON value to an integer count.
// Strings such as "1.3M", "10k" and "1,234" are accepted.
func ToInt(v any) *int64 {
	switch n := v.(type) {
	case float64:
		return finite(n)
	case float32:
		return finite(float64(n))
	case int:
		x := int64(n)
		return &x
	case int64:
		return &n
	case int32:
		x := int64(n)
		return &x
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return &i
		}
		f, err := n.Float64()
		if err != nil {
			return nil
		}
		return finite(f)
	case string:
		return ParseCount(n)
	default:
		return nil
	}
}

// ParseCount parses human-formatted counts. Unparsable input returns nil.
func ParseCount(s string) *int64 {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if r == ',' || r == ' ' || r == '\t' || r == '\n' || r == ' ' {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil
	}

	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		mult = 1_000
		s = strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult = 1_000_000
		s = strings.TrimSuffix(s, "m")
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return finite(f * mult)
}

// finite rounds f to an int64, or returns nil when f is not a number or does not fit.
func finite(f float64) *int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	f = math.Round(f)
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return nil
	}
	x := int64(f)
	return &x
}
