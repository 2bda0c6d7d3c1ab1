// Package profile defines the canonical profile shape produced from raw scraper records.
package profile

import (
	"errors"
	"strings"
)

// Common errors returned by normalization and aggregation.
var (
	ErrNoIdentity      = errors.New("record has neither id nor username")
	ErrPrivateNoSignal = errors.New("private profile without follower count")
)

// Post is one entry in a profile's latest posts.
type Post struct {
	ID            string   `json:"id,omitempty"`
	ShortCode     string   `json:"shortCode,omitempty"`
	URL           string   `json:"url,omitempty"`
	Caption       string   `json:"caption,omitempty"`
	Hashtags      []string `json:"hashtags,omitempty"`
	Mentions      []string `json:"mentions,omitempty"`
	LikesCount    *int64   `json:"likesCount,omitempty"`
	CommentsCount *int64   `json:"commentsCount,omitempty"`
	Timestamp     string   `json:"timestamp,omitempty"`
	OwnerUsername string   `json:"ownerUsername,omitempty"`
	DisplayURL    string   `json:"displayUrl,omitempty"`
}

// Key identifies a post for de-duplication: id, then short code, then URL.
func (p Post) Key() string {
	switch {
	case p.ID != "":
		return "id:" + p.ID
	case p.ShortCode != "":
		return "sc:" + p.ShortCode
	case p.URL != "":
		return "url:" + p.URL
	default:
		return ""
	}
}

// Engagement returns likes plus comments, treating missing counts as zero.
func (p Post) Engagement() int64 {
	var n int64
	if p.LikesCount != nil {
		n += *p.LikesCount
	}
	if p.CommentsCount != nil {
		n += *p.CommentsCount
	}
	return n
}

// Related is a lightweight reference to another profile seen alongside this one.
type Related struct {
	ID            string `json:"id,omitempty"`
	Username      string `json:"username"`
	FullName      string `json:"fullName,omitempty"`
	ProfilePicURL string `json:"profilePicUrl,omitempty"`
	IsVerified    bool   `json:"isVerified,omitempty"`
}

// StandardizedProfile is the single unified representation of one social identity.
//
// Numeric fields are nil when the source did not report them. A zero value means
// the scraper reported zero.
//
//nolint:govet // fieldalignment: intentional layout for readability
type StandardizedProfile struct {
	ID                string    `json:"id"`
	Username          string    `json:"username"`
	FullName          string    `json:"fullName,omitempty"`
	Biography         string    `json:"biography,omitempty"`
	ProfilePicURL     string    `json:"profilePicUrl,omitempty"`
	ExternalURL       string    `json:"externalUrl,omitempty"`
	FollowersCount    *int64    `json:"followersCount"`
	FollowsCount      *int64    `json:"followsCount"`
	PostsCount        *int64    `json:"postsCount"`
	IsPrivate         bool      `json:"isPrivate"`
	IsVerified        bool      `json:"isVerified"`
	IsBusinessAccount bool      `json:"isBusinessAccount"`
	LatestPosts       []Post    `json:"latestPosts,omitempty"`
	RelatedProfiles   []Related `json:"relatedProfiles,omitempty"`

	// Source names the record shape the profile was built from ("details", "network", ...).
	// Aggregated profiles list every contributing shape.
	Sources []string `json:"sources,omitempty"`
}

// Key returns the case-insensitive grouping key for the profile.
func (p *StandardizedProfile) Key() string {
	return NormalizeUsername(p.Username)
}

// NormalizeUsername lower-cases a handle and strips a leading "@" and surrounding space.
func NormalizeUsername(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	return strings.ToLower(s)
}

// Int64 returns a pointer to n. Handy for building profiles in tests and extractors.
func Int64(n int64) *int64 { return &n }
