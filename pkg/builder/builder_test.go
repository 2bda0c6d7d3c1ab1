package builder

import (
	"fmt"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/fingerprint"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/graph"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/plan"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/profile"
)

func input(query string, results ...StepResult) *Input {
	return &Input{Plan: plan.Resolve(query, plan.Options{}), Query: query, Results: results}
}

func step(dataType, subject string, ps ...*profile.StandardizedProfile) StepResult {
	return StepResult{
		Step:       plan.Step{DataType: dataType, Subject: subject},
		DatasetRef: "ds-" + dataType + "-" + subject,
		Profiles:   ps,
	}
}

func user(name string) *profile.StandardizedProfile {
	return &profile.StandardizedProfile{ID: name, Username: name}
}

func followers(subject string, names ...string) StepResult {
	var ps []*profile.StandardizedProfile
	for _, n := range names {
		ps = append(ps, user(n))
	}
	return step(fingerprint.DataFollowers, subject, ps...)
}

func post(owner, id, caption string, likes int64, tags ...string) profile.Post {
	return profile.Post{ID: id, Caption: caption, OwnerUsername: owner, LikesCount: profile.Int64(likes), Hashtags: tags}
}

func posts(subject string, ps ...profile.Post) StepResult {
	byOwner := make(map[string]*profile.StandardizedProfile)
	var out []*profile.StandardizedProfile
	for _, p := range ps {
		o, ok := byOwner[p.OwnerUsername]
		if !ok {
			o = user(p.OwnerUsername)
			byOwner[p.OwnerUsername] = o
			out = append(out, o)
		}
		o.LatestPosts = append(o.LatestPosts, p)
	}
	return step(fingerprint.DataPosts, subject, out...)
}

func mustBuild(t *testing.T, in *Input) *graph.Graph {
	t.Helper()
	g, err := Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func hasLink(g *graph.Graph, source, target string) bool {
	return slices.ContainsFunc(g.Links, func(l graph.Link) bool { return l.Source == source && l.Target == target })
}

// checkScores fails when a node carries a computed score without provenance.
func checkScores(t *testing.T, g *graph.Graph, fields ...string) {
	t.Helper()
	for _, n := range g.Nodes {
		for _, f := range fields {
			if _, ok := n.Data[f]; ok && n.FieldProvenance[f] == nil {
				t.Errorf("node %s: %s has no provenance", n.ID, f)
			}
		}
	}
}

func TestRegistry(t *testing.T) {
	got := Intents()
	for _, i := range plan.Intents {
		if !slices.Contains(got, i) || Lookup(i) == nil {
			t.Errorf("intent %q not registered", i)
		}
	}
	if Lookup("bogus") != nil {
		t.Error("Lookup(bogus) != nil")
	}

	in := input("@kobi")
	in.Plan.Intent = "bogus"
	g := mustBuild(t, in)
	if g.Analytics["intent"] != string(plan.IntentGeneral) {
		t.Errorf("fallback intent = %v", g.Analytics["intent"])
	}
}

func TestComparisonOverlap(t *testing.T) {
	in := input("@nike vs @adidas",
		followers("nike", "a", "b", "c"),
		followers("adidas", "b", "c", "d", "nike"),
	)
	g := mustBuild(t, in)

	if got := g.Analytics["overlapPercentage"]; got != 50.0 {
		t.Errorf("overlapPercentage = %v, want 50", got)
	}
	if g.Analytics["sharedCount"] != 2 || g.Analytics["unionCount"] != 4 {
		t.Errorf("shared/union = %v/%v", g.Analytics["sharedCount"], g.Analytics["unionCount"])
	}
	b := g.Node("profile:b")
	if b == nil || b.Group != graph.GroupCluster || b.Data["sharedBy"] != 2 {
		t.Fatalf("shared node = %+v", b)
	}
	for _, s := range []string{"profile:nike", "profile:adidas"} {
		if !hasLink(g, s, "profile:b") {
			t.Errorf("missing link %s → profile:b", s)
		}
	}
	if g.Node("profile:a") != nil {
		t.Error("unshared audience member should not be a node")
	}
	if g.Main().FieldProvenance["overlapPercentage"] == nil {
		t.Error("overlap has no provenance")
	}
	pairs, ok := g.Analytics["pairs"].([]map[string]any)
	if !ok || len(pairs) != 1 || pairs[0]["overlapPercentage"] != 50.0 {
		t.Errorf("pairs = %v", g.Analytics["pairs"])
	}
	checkScores(t, g, "sharedBy", "overlapPercentage")
}

func TestBuildDeterministic(t *testing.T) {
	mk := func() *Input {
		return input("@nike vs @adidas",
			followers("nike", "x", "b", "c", "q"),
			followers("adidas", "q", "c", "b"),
		)
	}
	g1, g2 := mustBuild(t, mk()), mustBuild(t, mk())
	if diff := cmp.Diff(g1.Nodes, g2.Nodes); diff != "" {
		t.Errorf("nodes differ between runs:\n%s", diff)
	}
	if diff := cmp.Diff(g1.Links, g2.Links); diff != "" {
		t.Errorf("links differ between runs:\n%s", diff)
	}
}

func TestSentiment(t *testing.T) {
	in := input("sentiment for @glossier", posts("glossier",
		post("glossier", "1", "I love this serum, it is amazing and my skin looks great", 10),
		post("glossier", "2", "Beautiful colors, I love it so much", 5),
		post("glossier", "3", "Terrible packaging and the worst customer service ever", 1),
		post("glossier", "4", "Just arrived in the mail today for my routine", 0),
	))
	g := mustBuild(t, in)

	want := map[string]any{
		"aggregate_score":    0.75,
		"polarization_score": 3.69,
		"dominant_emotion":   "positive",
		"scoredCount":        4,
	}
	for k, v := range want {
		if got := g.Analytics[k]; got != v {
			t.Errorf("%s = %v, want %v", k, got, v)
		}
	}
	root := g.Main()
	if root.ID != "main:glossier" || root.Data["dominant_emotion"] != "positive" {
		t.Errorf("main = %+v", root)
	}
	pos := g.Node("sentiment:positive")
	if pos == nil || pos.Data["share"] != 50.0 {
		t.Errorf("positive node = %+v", pos)
	}
	if love := g.Node("word:positive.love"); love == nil || love.Data["occurrences"] != 2 {
		t.Errorf("love node = %+v", love)
	}
	checkScores(t, g, "aggregate_score", "polarization_score", "dominant_emotion", "share", "occurrences")
	if ev := root.FieldProvenance["aggregate_score"].Evidence; len(ev) != 3 {
		t.Errorf("evidence = %d entries, want the 3 scored non-neutral texts", len(ev))
	}
}

func TestSentimentNothingToScore(t *testing.T) {
	g := mustBuild(t, input("sentiment for @quiet"))
	if g.Analytics["dominant_emotion"] != "neutral" || g.Analytics["warnings"] == nil {
		t.Errorf("analytics = %v", g.Analytics)
	}
}

func TestHashtag(t *testing.T) {
	in := input("#vanlife", posts("vanlife",
		post("amy", "1", "Morning coffee", 10, "vanlife", "travel", "roadtrip"),
		post("amy", "2", "Parked", 5, "vanlife", "travel"),
		post("bob", "3", "Sunset #vanlife #travel", 100),
		post("cat", "4", "Pasta night", 50, "cooking"),
	))
	g := mustBuild(t, in)

	if g.Analytics["postCount"] != 3 {
		t.Errorf("postCount = %v", g.Analytics["postCount"])
	}
	travel := g.Node("tag:travel")
	if travel == nil || travel.Data["cooccurrence"] != 3 || travel.Data["share"] != 100.0 {
		t.Errorf("travel = %+v", travel)
	}
	if g.Node("tag:cooking") != nil {
		t.Error("unrelated tag included")
	}
	wantAuthors := []map[string]any{
		{"username": "amy", "posts": 2, "engagement": int64(15)},
		{"username": "bob", "posts": 1, "engagement": int64(100)},
	}
	if diff := cmp.Diff(wantAuthors, g.Analytics["topAuthors"]); diff != "" {
		t.Errorf("topAuthors (-want +got):\n%s", diff)
	}
	if !hasLink(g, "main:vanlife", "profile:amy") {
		t.Error("author not linked to root")
	}
	checkScores(t, g, "cooccurrence", "share", "taggedPosts", "engagement", "postCount")
}

func TestCompetitor(t *testing.T) {
	oatly := user("oatly")
	oatly.FollowersCount = profile.Int64(1000)
	in := input("competitors @oatly @alpro",
		step(fingerprint.DataProfile, "oatly", oatly),
		posts("oatly", post("oatly", "o1", "Wow no cow", 30), post("oatly", "o2", "Oat", 10)),
		posts("alpro", post("alpro", "a1", "Almond", 50)),
	)
	g := mustBuild(t, in)

	o := g.Node("profile:oatly")
	if o == nil || o.Group != graph.GroupBrand || o.Data["averageEngagement"] != 20.0 || o.Data["engagementRate"] != 2.0 {
		t.Fatalf("oatly = %+v", o)
	}
	if _, ok := g.Node("profile:alpro").Data["engagementRate"]; ok {
		t.Error("engagement rate without follower count")
	}
	content, ok := g.Analytics["topContent"].([]map[string]any)
	if !ok || len(content) != 3 {
		t.Fatalf("topContent = %v", g.Analytics["topContent"])
	}
	var order []string
	for _, c := range content {
		order = append(order, fmt.Sprint(c["username"], ":", c["engagement"]))
	}
	if diff := cmp.Diff([]string{"alpro:50", "oatly:30", "oatly:10"}, order); diff != "" {
		t.Errorf("ranking (-want +got):\n%s", diff)
	}
	if p := g.Node("post:ida1"); p == nil || p.Data["rank"] != 1 || !hasLink(g, "profile:alpro", p.ID) {
		t.Errorf("top post = %+v", p)
	}
	checkScores(t, g, "averageEngagement", "engagementRate", "engagement", "rank")
}

func TestInfluencer(t *testing.T) {
	big, small := user("big"), user("small")
	big.FollowersCount = profile.Int64(90000)
	small.FollowersCount = profile.Int64(1200)
	in := input("influencers for @gymshark",
		step(fingerprint.DataFollowers, "gymshark", small, user("nocount"), big),
	)
	g := mustBuild(t, in)

	var got []string
	for _, it := range g.Analytics["influencers"].([]map[string]any) {
		got = append(got, it["username"].(string))
	}
	if diff := cmp.Diff([]string{"big", "small", "nocount"}, got); diff != "" {
		t.Errorf("ranking (-want +got):\n%s", diff)
	}
	if n := g.Node("profile:big"); n.Data["influenceRank"] != 1 || n.Group != graph.GroupCreator {
		t.Errorf("big = %+v", n)
	}
	if _, ok := g.Node("profile:nocount").Data["influenceRank"]; ok {
		t.Error("unranked candidate got a rank")
	}
	if g.Analytics["unrankedCount"] != 1 {
		t.Errorf("unrankedCount = %v", g.Analytics["unrankedCount"])
	}
	checkScores(t, g, "influenceRank", "reach")
}

func generalAudience() StepResult {
	var ps []*profile.StandardizedProfile
	for i := range 10 {
		p := user(fmt.Sprintf("fan%d", i))
		switch {
		case i < 2:
			p.Biography = "Space nerd, fan of @nasa and @esa #astrophotography"
		case i < 4:
			p.Biography = "Telescope owner. @nasa forever #astrophotography"
		case i < 5:
			p.Biography = "Big @NASA fan, contact me at me@mail.com #astrophotography"
		default:
			p.Biography = "Just here for the pictures"
		}
		ps = append(ps, p)
	}
	return step(fingerprint.DataFollowers, "kobi", ps...)
}

func TestGeneralOverindex(t *testing.T) {
	nasa := user("nasa")
	nasa.IsBusinessAccount = true
	nasa.FollowersCount = profile.Int64(98000000)
	in := input("@kobi", generalAudience(), step(fingerprint.DataProfile, "nasa", nasa))
	g := mustBuild(t, in)

	n := g.Node("profile:nasa")
	if n == nil || n.Group != graph.GroupBrand {
		t.Fatalf("nasa = %+v", n)
	}
	if n.Data["frequency"] != 5 || n.Data["percentage"] != 50.0 || n.Data["overindexScore"] != 50.0 {
		t.Errorf("nasa scores = %v", n.Data)
	}
	if g.Node("profile:esa") != nil {
		t.Error("esa occurs twice and should be below the minimum frequency")
	}
	if g.Node("profile:mail.com") != nil {
		t.Error("email domain treated as a mention")
	}
	if topic := g.Node("topic:astrophotography"); topic == nil || topic.Data["frequency"] != 5 {
		t.Errorf("topic = %+v", topic)
	}
	if len(n.FieldProvenance["overindexScore"].Evidence) != 5 {
		t.Errorf("evidence = %+v", n.FieldProvenance["overindexScore"].Evidence)
	}
	if g.Analytics["sampleSize"] != 10 {
		t.Errorf("sampleSize = %v", g.Analytics["sampleSize"])
	}
	checkScores(t, g, "overindexScore", "percentage", "frequency")
}

func TestGeneralKeepsUnknownCandidates(t *testing.T) {
	g := mustBuild(t, input("@kobi", generalAudience()))
	n := g.Node("profile:nasa")
	if n == nil || n.Group != graph.GroupOverindexed || n.Data["category"] != "unknown" {
		t.Fatalf("unverified candidate = %+v", n)
	}
	if diff := cmp.Diff([]string{"nasa"}, g.Analytics["unclassified"]); diff != "" {
		t.Errorf("unclassified (-want +got):\n%s", diff)
	}
}

func TestGeneralInsufficientSignalAndTopics(t *testing.T) {
	a, b := user("a"), user("b")
	a.Biography, b.Biography = "love @zed", "also @zed"
	in := input("@kobi", step(fingerprint.DataFollowers, "kobi", a, b))
	in.Topics = []Topic{{Name: "Astronomy", Weight: 0.8, Subtopics: []string{"telescopes"}}}
	g := mustBuild(t, in)

	warnings, _ := g.Analytics["warnings"].([]string)
	if len(warnings) == 0 {
		t.Error("no warning for an audience without signal")
	}
	topic := g.Node("topic:astronomy")
	if topic == nil || topic.Data["weight"] != 0.8 || topic.FieldProvenance["weight"] == nil {
		t.Errorf("topic = %+v", topic)
	}
	if !hasLink(g, topic.ID, "subtopic:astronomy.telescopes") {
		t.Error("subtopic not linked")
	}
}
