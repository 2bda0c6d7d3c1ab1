// Package builder turns normalized scrape results into intent-specific graphs.
//
// Each intent registers a Func from an init function. Builders are deterministic: the
// same input always produces the same node ids, order and scores.
package builder

import (
	"fmt"
	"sync"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/graph"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/plan"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/profile"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/provenance"
)

// StepResult holds the aggregated profiles produced by one plan step.
type StepResult struct {
	Step       plan.Step
	DatasetRef string
	Profiles   []*profile.StandardizedProfile
}

// Topic is an externally classified theme of the audience.
type Topic struct {
	Name      string
	Weight    float64
	Subtopics []string
}

// Lexicon holds the words used for sentiment scoring.
type Lexicon struct {
	Positive []string `yaml:"positive"`
	Negative []string `yaml:"negative"`
}

// Params are the tunable thresholds shared by builders. Zero values select defaults.
type Params struct {
	Lexicon      Lexicon
	MinFrequency int
	BaselineRate float64
	TopN         int
}

// DefaultTopN caps ranked lists.
const DefaultTopN = 25

// Input is everything a builder reads.
type Input struct {
	Plan    *plan.Plan
	Tracker *provenance.Tracker
	Query   string
	Results []StepResult
	Topics  []Topic
	Params  Params
}

// Func builds a graph from in.
type Func func(in *Input) *graph.Graph

var (
	registryMu sync.RWMutex
	registry   []plan.Intent
	byIntent   = make(map[plan.Intent]Func)
)

// Register adds fn as the builder for intent. It panics on a duplicate.
func Register(intent plan.Intent, fn Func) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := byIntent[intent]; exists {
		panic("builder already registered: " + string(intent))
	}
	registry = append(registry, intent)
	byIntent[intent] = fn
}

// Lookup returns the builder for intent, or nil.
func Lookup(intent plan.Intent) Func {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return byIntent[intent]
}

// Intents returns the registered intents in registration order.
func Intents() []plan.Intent {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]plan.Intent, len(registry))
	copy(out, registry)
	return out
}

// Build runs the builder registered for the plan's intent, falling back to the general
// builder. The graph is sanitized before it is validated, so the returned error only
// reports problems Sanitize could not repair.
func Build(in *Input) (*graph.Graph, error) {
	if in.Plan == nil {
		in.Plan = plan.Resolve(in.Query, plan.Options{})
	}
	if in.Query == "" {
		in.Query = in.Plan.Query
	}
	if in.Tracker == nil {
		in.Tracker = provenance.NewTracker(nil, in.datasetRefs()...)
	}
	fn := Lookup(in.Plan.Intent)
	intent := in.Plan.Intent
	if fn == nil {
		fn = Lookup(plan.IntentGeneral)
		intent = plan.IntentGeneral
	}
	if fn == nil {
		return nil, fmt.Errorf("no builder for intent %q", in.Plan.Intent)
	}

	g := fn(in)
	g.Analytics["intent"] = string(intent)
	g.Analytics["query"] = in.Query
	if n := g.Sanitize(); n > 0 {
		g.Analytics["sanitized"] = n
	}
	if err := g.Validate(); err != nil {
		return g, fmt.Errorf("build %s graph: %w", intent, err)
	}
	return g, nil
}

func (in *Input) datasetRefs() []string {
	var refs []string
	for _, r := range in.Results {
		if r.DatasetRef != "" {
			refs = append(refs, r.DatasetRef)
		}
	}
	return refs
}

func (in *Input) topN() int {
	if in.Params.TopN > 0 {
		return in.Params.TopN
	}
	return DefaultTopN
}
