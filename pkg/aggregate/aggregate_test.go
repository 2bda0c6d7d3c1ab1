package aggregate

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/normalize"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/profile"
)

func TestMergeFields(t *testing.T) {
	followers := &profile.StandardizedProfile{
		ID:             "kobi",
		Username:       "kobi",
		FollowersCount: profile.Int64(900),
		Sources:        []string{"network"},
	}
	details := &profile.StandardizedProfile{
		ID:             "1784",
		Username:       "Kobi",
		FullName:       "Kobi K",
		Biography:      "Astrophotographer and educator",
		FollowersCount: profile.Int64(850),
		FollowsCount:   profile.Int64(12),
		IsVerified:     true,
		Sources:        []string{"details"},
	}
	stale := &profile.StandardizedProfile{
		ID:         "kobi",
		Username:   "KOBI",
		Biography:  "Bio unavailable",
		FullName:   "K",
		PostsCount: profile.Int64(0),
		Sources:    []string{"details"},
	}

	got := Merge(followers, details, stale)
	want := &profile.StandardizedProfile{
		ID:             "1784",
		Username:       "kobi",
		FullName:       "Kobi K",
		Biography:      "Astrophotographer and educator",
		FollowersCount: profile.Int64(900),
		FollowsCount:   profile.Int64(12),
		PostsCount:     profile.Int64(0),
		IsVerified:     true,
		Sources:        []string{"network", "details"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge mismatch (-want +got):\n%s", diff)
	}
	if *followers.FollowersCount != 900 || followers.FullName != "" {
		t.Errorf("Merge modified its input: %+v", followers)
	}
}

func TestMergeNeverRegresses(t *testing.T) {
	tests := []struct {
		name string
		a, b *profile.StandardizedProfile
	}{
		{
			name: "smaller later count",
			a:    &profile.StandardizedProfile{Username: "x", FollowersCount: profile.Int64(100), IsPrivate: true},
			b:    &profile.StandardizedProfile{Username: "x", FollowersCount: profile.Int64(5)},
		},
		{
			name: "null later count",
			a:    &profile.StandardizedProfile{Username: "x", FollowersCount: profile.Int64(100), Biography: "real biography"},
			b:    &profile.StandardizedProfile{Username: "x", Biography: "No bio"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, order := range [][]*profile.StandardizedProfile{{tt.a, tt.b}, {tt.b, tt.a}} {
				got := Merge(order...)
				if got.FollowersCount == nil || *got.FollowersCount != 100 {
					t.Errorf("FollowersCount = %v, want 100", got.FollowersCount)
				}
				if got.IsPrivate != (tt.a.IsPrivate || tt.b.IsPrivate) {
					t.Errorf("IsPrivate = %v", got.IsPrivate)
				}
				if tt.a.Biography != "" && got.Biography != tt.a.Biography {
					t.Errorf("Biography = %q, want %q", got.Biography, tt.a.Biography)
				}
			}
		})
	}
}

func TestMergePostsAndRelated(t *testing.T) {
	a := &profile.StandardizedProfile{
		Username: "k",
		LatestPosts: []profile.Post{
			{ID: "1", Caption: "short", LikesCount: profile.Int64(3)},
			{ShortCode: "abc"},
		},
		RelatedProfiles: []profile.Related{{Username: "Friend"}},
	}
	b := &profile.StandardizedProfile{
		Username: "k",
		LatestPosts: []profile.Post{
			{ID: "1", Caption: "a much longer caption", LikesCount: profile.Int64(2), CommentsCount: profile.Int64(1)},
			{ID: "2"},
		},
		RelatedProfiles: []profile.Related{{Username: "friend", FullName: "A Friend", IsVerified: true}, {Username: "other"}},
	}
	got := Merge(a, b)
	wantPosts := []profile.Post{
		{ID: "1", Caption: "a much longer caption", LikesCount: profile.Int64(3), CommentsCount: profile.Int64(1)},
		{ShortCode: "abc"},
		{ID: "2"},
	}
	if diff := cmp.Diff(wantPosts, got.LatestPosts); diff != "" {
		t.Errorf("posts mismatch (-want +got):\n%s", diff)
	}
	wantRelated := []profile.Related{{Username: "Friend", FullName: "A Friend", IsVerified: true}, {Username: "other"}}
	if diff := cmp.Diff(wantRelated, got.RelatedProfiles); diff != "" {
		t.Errorf("related mismatch (-want +got):\n%s", diff)
	}
	if a.LatestPosts[0].Caption != "short" {
		t.Errorf("input post modified: %+v", a.LatestPosts[0])
	}
}

func TestAggregateGroupsCaseInsensitive(t *testing.T) {
	in := []*profile.StandardizedProfile{
		{ID: "a", Username: "Alpha"},
		{ID: "b", Username: "beta"},
		nil,
		{ID: "a", Username: "ALPHA", Biography: "alpha bio text"},
		{ID: "77"},
	}
	got := Aggregate(in)
	var keys []string
	for _, p := range got {
		keys = append(keys, p.ID+"/"+p.Username)
	}
	if diff := cmp.Diff([]string{"a/Alpha", "b/beta", "77/"}, keys); diff != "" {
		t.Errorf("groups (-want +got):\n%s", diff)
	}
	if got[0].Biography != "alpha bio text" {
		t.Errorf("merged biography = %q", got[0].Biography)
	}
}

func TestThreeShapesAggregateIntoOne(t *testing.T) {
	raws := []map[string]any{
		{"username": "astrokobi", "followed_by_viewer": false, "follower_count": float64(120_000)},
		{"username": "AstroKobi", "biography": "Astrophotography from the desert", "followersCount": "98k", "postsCount": float64(310)},
		{"ownerUsername": "astrokobi", "ownerId": "5512", "shortCode": "Cx9", "caption": "Milky way"},
		{"username": "astrokobi", "biography": "No bio", "followersCount": "1.1k"},
	}
	var ps []*profile.StandardizedProfile
	for _, r := range raws {
		if p := normalize.Normalize(r); p != nil {
			ps = append(ps, p)
		}
	}
	got := Aggregate(ps)
	if len(got) != 1 {
		t.Fatalf("Aggregate returned %d profiles, want 1", len(got))
	}
	p := got[0]
	if p.FollowersCount == nil || *p.FollowersCount != 120_000 {
		t.Errorf("FollowersCount = %v, want 120000", p.FollowersCount)
	}
	if p.Biography != "Astrophotography from the desert" {
		t.Errorf("Biography = %q", p.Biography)
	}
	if p.ID != "5512" {
		t.Errorf("ID = %q, want opaque id 5512", p.ID)
	}
	if len(p.LatestPosts) != 1 || p.LatestPosts[0].ShortCode != "Cx9" {
		t.Errorf("LatestPosts = %+v", p.LatestPosts)
	}
}
