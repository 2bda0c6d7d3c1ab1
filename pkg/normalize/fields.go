package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/metric"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/profile"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/textutil"
)

// Field aliases for non-numeric profile fields, tried in order.
var (
	idKeys        = []string{"id", "pk", "pk_id", "userId", "user_id", "profileId", "profile_id"}
	usernameKeys  = []string{"username", "userName", "user_name", "handle", "uniqueId", "screen_name"}
	fullNameKeys  = []string{"fullName", "full_name", "displayName", "display_name", "name", "nickname"}
	bioKeys       = []string{"biography", "bio", "description", "signature"}
	picKeys       = []string{"profilePicUrlHD", "profile_pic_url_hd", "profilePicUrl", "profile_pic_url", "avatarUrl", "avatar"}
	externalKeys  = []string{"externalUrl", "external_url", "bioLink", "website"}
	privateKeys   = []string{"isPrivate", "is_private", "private"}
	verifiedKeys  = []string{"isVerified", "is_verified", "verified"}
	businessKeys  = []string{"isBusinessAccount", "is_business_account", "isBusiness", "is_professional_account", "isProfessionalAccount"}
	postsListKeys = []string{"latestPosts", "latest_posts", "posts", "recentPosts"}
	relatedKeys   = []string{"relatedProfiles", "related_profiles"}
)

// str returns the first alias holding a non-empty scalar, formatted as a string.
func str(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s := scalarString(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}

// flag returns true when any alias holds a truthy value.
func flag(m map[string]any, keys []string) bool {
	for _, k := range keys {
		switch x := m[k].(type) {
		case bool:
			if x {
				return true
			}
		case string:
			if strings.EqualFold(x, "true") {
				return true
			}
		}
	}
	return false
}

func has(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func sub(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

// overlay returns a shallow copy of base with every key of top applied on top.
func overlay(base, top map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

// profileFields fills the shared profile fields from m. Numbers always go through
// the metric extractor.
func profileFields(m map[string]any) *profile.StandardizedProfile {
	p := &profile.StandardizedProfile{
		ID:                str(m, idKeys),
		Username:          strings.TrimPrefix(str(m, usernameKeys), "@"),
		FullName:          str(m, fullNameKeys),
		Biography:         profile.CleanText(str(m, bioKeys)),
		ProfilePicURL:     str(m, picKeys),
		ExternalURL:       str(m, externalKeys),
		FollowersCount:    metric.Extract(m, metric.Followers),
		FollowsCount:      metric.Extract(m, metric.Following),
		PostsCount:        metric.Extract(m, metric.Posts),
		IsPrivate:         flag(m, privateKeys),
		IsVerified:        flag(m, verifiedKeys),
		IsBusinessAccount: flag(m, businessKeys),
	}
	for _, k := range postsListKeys {
		if list, ok := m[k].([]any); ok {
			for _, item := range list {
				if pm, ok := item.(map[string]any); ok {
					if post, ok := toPost(pm); ok {
						p.LatestPosts = append(p.LatestPosts, post)
					}
				}
			}
			break
		}
	}
	for _, k := range relatedKeys {
		if list, ok := m[k].([]any); ok {
			for _, item := range list {
				if rm, ok := item.(map[string]any); ok {
					if r := toRelated(rm); r.Username != "" {
						p.RelatedProfiles = append(p.RelatedProfiles, r)
					}
				}
			}
			break
		}
	}
	return p
}

func toRelated(m map[string]any) profile.Related {
	return profile.Related{
		ID:            str(m, idKeys),
		Username:      strings.TrimPrefix(str(m, usernameKeys), "@"),
		FullName:      str(m, fullNameKeys),
		ProfilePicURL: str(m, picKeys),
		IsVerified:    flag(m, verifiedKeys),
	}
}

var (
	captionKeys  = []string{"caption", "text", "description", "title"}
	likesKeys    = []string{"likesCount", "likes_count", "likeCount", "diggCount", "edge_liked_by.count", "edge_media_preview_like.count"}
	commentsKeys = []string{"commentsCount", "comments_count", "commentCount", "edge_media_to_comment.count"}
	timeKeys     = []string{"timestamp", "takenAt", "taken_at_timestamp", "createTimeISO", "createdAt"}
)

// toPost reads a post-shaped map. It reports false when the map has nothing that
// identifies a post.
func toPost(m map[string]any) (profile.Post, bool) {
	caption := str(m, captionKeys)
	if caption == "" {
		// Instagram GraphQL nests the caption under edges.
		if edges, ok := lookupList(m, "edge_media_to_caption.edges"); ok && len(edges) > 0 {
			if e, ok := edges[0].(map[string]any); ok {
				if node := sub(e, "node"); node != nil {
					caption = str(node, []string{"text"})
				}
			}
		}
	}
	caption = textutil.Clean(caption)

	post := profile.Post{
		ID:            str(m, []string{"id", "pk", "postId"}),
		ShortCode:     str(m, []string{"shortCode", "shortcode", "code"}),
		URL:           str(m, []string{"url", "postUrl", "webVideoUrl", "permalink"}),
		Caption:       caption,
		Hashtags:      stringList(m, "hashtags"),
		Mentions:      stringList(m, "mentions"),
		LikesCount:    firstCount(m, likesKeys),
		CommentsCount: firstCount(m, commentsKeys),
		Timestamp:     str(m, timeKeys),
		OwnerUsername: str(m, []string{"ownerUsername", "owner_username"}),
		DisplayURL:    str(m, []string{"displayUrl", "display_url", "thumbnailUrl"}),
	}
	if len(post.Hashtags) == 0 {
		post.Hashtags = textutil.Hashtags(caption)
	}
	if len(post.Mentions) == 0 {
		post.Mentions = textutil.Mentions(caption)
	}
	if post.OwnerUsername == "" {
		if owner := sub(m, "owner"); owner != nil {
			post.OwnerUsername = str(owner, usernameKeys)
		}
	}
	return post, post.Key() != "" || post.Caption != ""
}

func firstCount(m map[string]any, paths []string) *int64 {
	for _, p := range paths {
		if v, ok := metric.Lookup(m, p); ok && v != nil {
			if n := metric.ToInt(v); n != nil {
				return n
			}
		}
	}
	return nil
}

func stringList(m map[string]any, key string) []string {
	list, ok := m[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range list {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, strings.ToLower(strings.TrimLeft(s, "#@")))
		}
	}
	return out
}

func lookupList(m map[string]any, path string) ([]any, bool) {
	v, ok := metric.Lookup(m, path)
	if !ok {
		return nil, false
	}
	list, ok := v.([]any)
	return list, ok
}
