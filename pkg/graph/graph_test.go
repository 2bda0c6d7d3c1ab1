package graph

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/provenance"
)

func TestAddNodeAndLink(t *testing.T) {
	g := New()
	main := g.AddNode(&Node{ID: "main:kobi", Label: "kobi", Group: GroupMain})
	a := g.AddNode(&Node{ID: ID("creator", "@Ann_B"), Label: "Ann", Group: GroupCreator})
	if dup := g.AddNode(&Node{ID: "creator:ann_b", Label: "other"}); dup != a {
		t.Errorf("AddNode duplicate returned %+v, want existing node", dup)
	}
	g.Link(main.ID, a.ID, 1)
	g.Link(main.ID, a.ID, 2)
	g.Link(a.ID, a.ID, 5)

	if len(g.Nodes) != 2 {
		t.Errorf("nodes = %d, want 2", len(g.Nodes))
	}
	if diff := cmp.Diff([]Link{{Source: "main:kobi", Target: "creator:ann_b", Value: 3}}, g.Links); diff != "" {
		t.Errorf("links (-want +got):\n%s", diff)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if g.Main() != main || g.Node("creator:ann_b") != a || g.Node("missing") != nil {
		t.Error("lookup mismatch")
	}
}

func TestValidateAndSanitize(t *testing.T) {
	g := &Graph{
		Nodes: []*Node{
			{ID: "a", Group: GroupMain},
			{ID: "b", Group: GroupMain},
			{ID: "a", Group: GroupTopic},
			{ID: "c", Group: GroupTopic},
		},
		Links: []Link{
			{Source: "a", Target: "b", Value: 1},
			{Source: "a", Target: "b", Value: 1},
			{Source: "c", Target: "c", Value: 1},
			{Source: "a", Target: "zzz", Value: 1},
			{Source: "b", Target: "c", Value: 1},
		},
	}
	err := g.Validate()
	for _, want := range []error{ErrMultipleMain, ErrDuplicateNode, ErrSelfLoop, ErrDanglingLink} {
		if !errors.Is(err, want) {
			t.Errorf("Validate error %v does not include %v", err, want)
		}
	}

	if n := g.Sanitize(); n != 5 {
		t.Errorf("Sanitize changed %d items, want 5", n)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate after Sanitize: %v", err)
	}
	var groups []Group
	for _, n := range g.Nodes {
		groups = append(groups, n.Group)
	}
	if diff := cmp.Diff([]Group{GroupMain, GroupCluster, GroupTopic}, groups); diff != "" {
		t.Errorf("groups (-want +got):\n%s", diff)
	}
	if len(g.Links) != 2 {
		t.Errorf("links = %+v, want 2", g.Links)
	}
}

func TestValidateNoMain(t *testing.T) {
	if err := New().Validate(); !errors.Is(err, ErrNoMain) {
		t.Errorf("Validate(empty) = %v, want ErrNoMain", err)
	}
}

func TestSetScore(t *testing.T) {
	n := &Node{ID: "x"}
	rec := provenance.New("Over-indexing", "frequency ratio", "pct / baseline", nil, nil)
	n.SetScore("overindexScore", 2.5, rec)
	if n.Data["overindexScore"] != 2.5 || n.FieldProvenance["overindexScore"] != rec {
		t.Errorf("SetScore did not store value and provenance: %+v", n)
	}
}

func TestVal(t *testing.T) {
	tests := []struct {
		metric, k, want float64
	}{
		{0, 3, 3},
		{1, 3, 3},
		{1000, 3, 6},
		{1_000_000, 1, 7},
		{50, 0, 1.7},
	}
	for _, tt := range tests {
		if got := Val(tt.metric, tt.k); got != tt.want {
			t.Errorf("Val(%v, %v) = %v, want %v", tt.metric, tt.k, got, tt.want)
		}
	}
}

func TestSlug(t *testing.T) {
	if got := Slug("  @Kobi K. Shoots! "); got != "kobik.shoots" {
		t.Errorf("Slug = %q", got)
	}
}
