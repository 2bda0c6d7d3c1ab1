// Package aggregate folds partial profiles of the same identity into one best-of record.
package aggregate

import (
	"slices"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/profile"
)

// Aggregate groups profiles by case-insensitive username and merges each group.
// Output order follows the first appearance of each username. Profiles without a
// username are grouped by id. Inputs are never modified.
func Aggregate(profiles []*profile.StandardizedProfile) []*profile.StandardizedProfile {
	var order []string
	groups := make(map[string][]*profile.StandardizedProfile)
	for _, p := range profiles {
		if p == nil {
			continue
		}
		key := p.Key()
		if key == "" {
			key = "id:" + p.ID
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], p)
	}

	out := make([]*profile.StandardizedProfile, 0, len(order))
	for _, k := range order {
		out = append(out, Merge(groups[k]...))
	}
	return out
}

// Merge combines profiles that describe the same identity. Counts take the maximum
// reported value, flags are true if any input says so, and text fields keep the longest
// non-placeholder candidate.
func Merge(ps ...*profile.StandardizedProfile) *profile.StandardizedProfile {
	m := &profile.StandardizedProfile{}
	var opaqueID string
	for _, p := range ps {
		if p == nil {
			continue
		}
		if m.Username == "" {
			m.Username = p.Username
		}
		if opaqueID == "" && p.ID != "" && !sameHandle(p.ID, p.Username) {
			opaqueID = p.ID
		}
		if m.ID == "" {
			m.ID = p.ID
		}

		m.FollowersCount = maxCount(m.FollowersCount, p.FollowersCount)
		m.FollowsCount = maxCount(m.FollowsCount, p.FollowsCount)
		m.PostsCount = maxCount(m.PostsCount, p.PostsCount)

		m.IsPrivate = m.IsPrivate || p.IsPrivate
		m.IsVerified = m.IsVerified || p.IsVerified
		m.IsBusinessAccount = m.IsBusinessAccount || p.IsBusinessAccount

		m.Biography = longer(m.Biography, p.Biography)
		m.FullName = longer(m.FullName, p.FullName)
		m.ProfilePicURL = longer(m.ProfilePicURL, p.ProfilePicURL)
		m.ExternalURL = longer(m.ExternalURL, p.ExternalURL)

		m.LatestPosts = mergePosts(m.LatestPosts, p.LatestPosts)
		m.RelatedProfiles = mergeRelated(m.RelatedProfiles, p.RelatedProfiles)
		for _, s := range p.Sources {
			if !slices.Contains(m.Sources, s) {
				m.Sources = append(m.Sources, s)
			}
		}
	}
	if opaqueID != "" {
		m.ID = opaqueID
	}
	if m.ID == "" {
		m.ID = m.Username
	}
	return m
}

func sameHandle(id, username string) bool {
	return profile.NormalizeUsername(id) == profile.NormalizeUsername(username)
}

func maxCount(a, b *int64) *int64 {
	switch {
	case b == nil:
		return a
	case a == nil || *b > *a:
		v := *b
		return &v
	default:
		return a
	}
}

// longer keeps cur unless cand is a longer real value. Ties keep the earlier value.
func longer(cur, cand string) string {
	if profile.IsPlaceholder(cand) {
		return cur
	}
	if profile.IsPlaceholder(cur) || len([]rune(cand)) > len([]rune(cur)) {
		return cand
	}
	return cur
}

func mergePosts(dst, src []profile.Post) []profile.Post {
	if len(src) == 0 {
		return dst
	}
	idx := make(map[string]int, len(dst))
	for i, p := range dst {
		if k := p.Key(); k != "" {
			idx[k] = i
		}
	}
	for _, p := range src {
		k := p.Key()
		if k == "" {
			dst = append(dst, p)
			continue
		}
		if i, ok := idx[k]; ok {
			dst[i] = mergePost(dst[i], p)
			continue
		}
		idx[k] = len(dst)
		dst = append(dst, p)
	}
	return dst
}

func mergePost(a, b profile.Post) profile.Post {
	a.LikesCount = maxCount(a.LikesCount, b.LikesCount)
	a.CommentsCount = maxCount(a.CommentsCount, b.CommentsCount)
	a.Caption = longer(a.Caption, b.Caption)
	a.URL = longer(a.URL, b.URL)
	a.ShortCode = longer(a.ShortCode, b.ShortCode)
	a.DisplayURL = longer(a.DisplayURL, b.DisplayURL)
	if a.Timestamp == "" {
		a.Timestamp = b.Timestamp
	}
	if a.OwnerUsername == "" {
		a.OwnerUsername = b.OwnerUsername
	}
	if len(b.Hashtags) > len(a.Hashtags) {
		a.Hashtags = b.Hashtags
	}
	if len(b.Mentions) > len(a.Mentions) {
		a.Mentions = b.Mentions
	}
	return a
}

func mergeRelated(dst, src []profile.Related) []profile.Related {
	for _, r := range src {
		key := profile.NormalizeUsername(r.Username)
		i := slices.IndexFunc(dst, func(d profile.Related) bool {
			return profile.NormalizeUsername(d.Username) == key
		})
		if i < 0 {
			dst = append(dst, r)
			continue
		}
		dst[i].FullName = longer(dst[i].FullName, r.FullName)
		dst[i].ProfilePicURL = longer(dst[i].ProfilePicURL, r.ProfilePicURL)
		dst[i].IsVerified = dst[i].IsVerified || r.IsVerified
		if dst[i].ID == "" {
			dst[i].ID = r.ID
		}
	}
	return dst
}
