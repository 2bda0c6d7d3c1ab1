// Package graph defines the node/link result graph and its structural checks.
package graph

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/provenance"
)

// Group classifies a node for rendering.
type Group string

// Node groups.
const (
	GroupMain        Group = "main"
	GroupCluster     Group = "cluster"
	GroupCreator     Group = "creator"
	GroupBrand       Group = "brand"
	GroupTopic       Group = "topic"
	GroupSubtopic    Group = "subtopic"
	GroupNonRelated  Group = "nonRelatedInterest"
	GroupOverindexed Group = "overindexed"
)

// Node is one renderable entity.
type Node struct {
	ID         string             `json:"id"`
	Label      string             `json:"label"`
	Group      Group              `json:"group"`
	Val        float64            `json:"val"`
	Data       map[string]any     `json:"data,omitempty"`
	Provenance *provenance.Record `json:"provenance,omitempty"`
	// FieldProvenance holds per-field records for computed values inside Data.
	FieldProvenance map[string]*provenance.Record `json:"fieldProvenance,omitempty"`
}

// Attach sets the node-level provenance record.
func (n *Node) Attach(r *provenance.Record) {
	n.Provenance = r
}

// SetScore stores a computed value in Data together with its provenance.
func (n *Node) SetScore(field string, value any, r *provenance.Record) {
	if n.Data == nil {
		n.Data = make(map[string]any)
	}
	n.Data[field] = value
	if n.FieldProvenance == nil {
		n.FieldProvenance = make(map[string]*provenance.Record)
	}
	n.FieldProvenance[field] = r
}

// Link is a weighted edge between two node ids.
type Link struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Value  float64 `json:"value"`
}

// Graph is a builder's output.
type Graph struct {
	Nodes     []*Node        `json:"nodes"`
	Links     []Link         `json:"links"`
	Analytics map[string]any `json:"analytics"`

	index map[string]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		Nodes:     []*Node{},
		Links:     []Link{},
		Analytics: map[string]any{},
	}
}

// Node returns the node with id, or nil.
func (g *Graph) Node(id string) *Node {
	g.reindex()
	if i, ok := g.index[id]; ok {
		return g.Nodes[i]
	}
	return nil
}

// Main returns the main node, or nil.
func (g *Graph) Main() *Node {
	for _, n := range g.Nodes {
		if n.Group == GroupMain {
			return n
		}
	}
	return nil
}

// AddNode adds n unless a node with the same id exists, in which case the existing
// node is returned.
func (g *Graph) AddNode(n *Node) *Node {
	if existing := g.Node(n.ID); existing != nil {
		return existing
	}
	g.index[n.ID] = len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
	return n
}

// Link connects source to target. Self-loops are ignored and a repeated edge adds to
// the existing weight.
func (g *Graph) Link(source, target string, value float64) {
	if source == target {
		return
	}
	for i := range g.Links {
		if g.Links[i].Source == source && g.Links[i].Target == target {
			g.Links[i].Value += value
			return
		}
	}
	g.Links = append(g.Links, Link{Source: source, Target: target, Value: value})
}

func (g *Graph) reindex() {
	if g.index != nil && len(g.index) == len(g.Nodes) {
		return
	}
	g.index = make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		if _, dup := g.index[n.ID]; !dup {
			g.index[n.ID] = i
		}
	}
}

// Structural errors reported by Validate.
var (
	ErrNoMain        = errors.New("graph has no main node")
	ErrMultipleMain  = errors.New("graph has more than one main node")
	ErrDuplicateNode = errors.New("duplicate node id")
	ErrDanglingLink  = errors.New("link endpoint missing")
	ErrSelfLoop      = errors.New("self-loop")
)

// Validate checks that ids are unique, exactly one node is main, and every link joins
// two distinct existing nodes.
func (g *Graph) Validate() error {
	var errs []error
	ids := make(map[string]bool, len(g.Nodes))
	mains := 0
	for _, n := range g.Nodes {
		if ids[n.ID] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID))
		}
		ids[n.ID] = true
		if n.Group == GroupMain {
			mains++
		}
	}
	switch {
	case mains == 0:
		errs = append(errs, ErrNoMain)
	case mains > 1:
		errs = append(errs, fmt.Errorf("%w: %d", ErrMultipleMain, mains))
	}
	for _, l := range g.Links {
		if l.Source == l.Target {
			errs = append(errs, fmt.Errorf("%w: %s", ErrSelfLoop, l.Source))
			continue
		}
		if !ids[l.Source] || !ids[l.Target] {
			errs = append(errs, fmt.Errorf("%w: %s → %s", ErrDanglingLink, l.Source, l.Target))
		}
	}
	return errors.Join(errs...)
}

// Sanitize repairs what Validate reports: later duplicate nodes are dropped, extra main
// nodes become clusters, and invalid or repeated links are removed. It returns the
// number of items changed.
func (g *Graph) Sanitize() int {
	changed := 0
	seen := make(map[string]bool, len(g.Nodes))
	nodes := g.Nodes[:0]
	hasMain := false
	for _, n := range g.Nodes {
		if n == nil || seen[n.ID] {
			changed++
			continue
		}
		seen[n.ID] = true
		if n.Group == GroupMain {
			if hasMain {
				n.Group = GroupCluster
				changed++
			}
			hasMain = true
		}
		nodes = append(nodes, n)
	}
	g.Nodes = nodes
	g.index = nil

	type edge struct{ s, t string }
	kept := make(map[edge]bool, len(g.Links))
	links := g.Links[:0]
	for _, l := range g.Links {
		e := edge{l.Source, l.Target}
		if l.Source == l.Target || !seen[l.Source] || !seen[l.Target] || kept[e] {
			changed++
			continue
		}
		kept[e] = true
		links = append(links, l)
	}
	g.Links = links
	return changed
}

// ID builds a deterministic node id from a kind and a display key.
func ID(kind, key string) string {
	return kind + ":" + Slug(key)
}

// Slug lower-cases s and keeps letters, digits, '_' and '.'.
func Slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@")) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Val returns the visual weight log10(metric)+k. Metrics below 1 weigh k.
func Val(metric, k float64) float64 {
	if metric < 1 || math.IsNaN(metric) {
		return k
	}
	return math.Round((math.Log10(metric)+k)*100) / 100
}
