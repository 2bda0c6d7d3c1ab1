// Package overindex finds entities that appear disproportionately often in a sampled
// audience compared to a baseline rate.
package overindex

import (
	"cmp"
	"errors"
	"slices"
	"strings"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/profile"
)

// ErrInsufficientSignal is returned with an empty result when candidates existed but
// none reached the minimum frequency.
var ErrInsufficientSignal = errors.New("no candidate reached the minimum frequency")

// Category of a scored entity.
type Category string

// Categories.
const (
	CategoryCreator Category = "creator"
	CategoryBrand   Category = "brand"
	CategoryTopic   Category = "topic"
	CategoryUnknown Category = "unknown"
)

// Defaults observed to work on Instagram follower samples.
const (
	DefaultMinFrequency = 3
	DefaultBaselineRate = 1.0
)

// Entity is one scored candidate.
type Entity struct {
	Name           string   `json:"name"`
	Frequency      int      `json:"frequency"`
	Percentage     float64  `json:"percentage"`
	OverindexScore float64  `json:"overindexScore"`
	Category       Category `json:"category"`
}

// Params configures Score. Zero values select the defaults.
type Params struct {
	SampleSize   int
	BaselineRate float64
	MinFrequency int
}

// Score filters counts below MinFrequency, then computes percentage = freq/sample*100
// and score = percentage/baseline. Results are sorted by score, then frequency, then
// name. Every entity starts as CategoryUnknown.
//
// When counts is non-empty but nothing survives the filter, Score returns an empty
// slice and ErrInsufficientSignal.
func Score(counts map[string]int, p Params) ([]Entity, error) {
	if p.MinFrequency <= 0 {
		p.MinFrequency = DefaultMinFrequency
	}
	if p.BaselineRate <= 0 {
		p.BaselineRate = DefaultBaselineRate
	}
	out := []Entity{}
	if p.SampleSize <= 0 || len(counts) == 0 {
		return out, nil
	}

	for name, freq := range counts {
		if freq < p.MinFrequency {
			continue
		}
		pct := float64(freq) * 100 / float64(p.SampleSize)
		out = append(out, Entity{
			Name:           name,
			Frequency:      freq,
			Percentage:     pct,
			OverindexScore: pct / p.BaselineRate,
			Category:       CategoryUnknown,
		})
	}
	if len(out) == 0 {
		return out, ErrInsufficientSignal
	}

	slices.SortFunc(out, func(a, b Entity) int {
		if c := cmp.Compare(b.OverindexScore, a.OverindexScore); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Frequency, a.Frequency); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Classify sets each entity's category from verified profiles keyed by normalized
// username. Entities without a matching profile stay unknown and are kept.
func Classify(entities []Entity, verified map[string]*profile.StandardizedProfile) []Entity {
	out := slices.Clone(entities)
	for i := range out {
		p, ok := verified[profile.NormalizeUsername(out[i].Name)]
		switch {
		case !ok || p == nil:
			out[i].Category = CategoryUnknown
		case p.IsBusinessAccount:
			out[i].Category = CategoryBrand
		default:
			out[i].Category = CategoryCreator
		}
	}
	return out
}

// Top returns up to n entities. Unknown entities are included; they are enrichment
// candidates, not noise.
func Top(entities []Entity, n int) []Entity {
	if n <= 0 || n >= len(entities) {
		return entities
	}
	return entities[:n]
}

// Unknown returns the names of entities not yet classified.
func Unknown(entities []Entity) []string {
	var names []string
	for _, e := range entities {
		if e.Category == CategoryUnknown {
			names = append(names, e.Name)
		}
	}
	return names
}

// Count tallies how many distinct samples mention each key. keys are normalized with
// profile.NormalizeUsername; a sample mentioning the same key twice counts once.
func Count(samples [][]string) map[string]int {
	counts := make(map[string]int)
	for _, keys := range samples {
		seen := make(map[string]bool, len(keys))
		for _, k := range keys {
			k = profile.NormalizeUsername(k)
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			counts[k]++
		}
	}
	return counts
}
