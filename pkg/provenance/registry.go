package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sync"
	"unicode/utf8"
)

// refPrefix marks a registered shortcode.
const refPrefix = "@ref:"

// DefaultMinLen is the shortest string worth replacing with a shortcode.
const DefaultMinLen = 15

var refPattern = regexp.MustCompile(`@ref:[0-9a-f]{10,64}`)

// Registry swaps long strings for short deterministic codes and back. It is safe for
// concurrent use.
type Registry struct {
	byCode map[string]string
	byText map[string]string
	minLen int
	mu     sync.RWMutex
}

// NewRegistry creates a Registry. Strings shorter than minLen characters are never
// registered; minLen <= 0 selects DefaultMinLen.
func NewRegistry(minLen int) *Registry {
	if minLen <= 0 {
		minLen = DefaultMinLen
	}
	return &Registry{
		byCode: make(map[string]string),
		byText: make(map[string]string),
		minLen: minLen,
	}
}

// Register returns the shortcode for s, or s itself when it is too short to be worth it.
// Registering the same string twice returns the same code.
func (r *Registry) Register(s string) string {
	if utf8.RuneCountInString(s) < r.minLen {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if code, ok := r.byText[s]; ok {
		return code
	}
	sum := sha256.Sum256([]byte(s))
	digest := hex.EncodeToString(sum[:])
	for n := 10; n <= len(digest); n += 2 {
		code := refPrefix + digest[:n]
		if prev, taken := r.byCode[code]; taken && prev != s {
			continue
		}
		r.byCode[code] = s
		r.byText[s] = code
		return code
	}
	// A full sha256 collision; keep the text rather than lose it.
	return s
}

// Unpack returns the string registered under code. Anything that is not a known code
// is returned unchanged.
func (r *Registry) Unpack(code string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.byCode[code]; ok {
		return s
	}
	return code
}

// Expand replaces every known shortcode inside text.
func (r *Registry) Expand(text string) string {
	return refPattern.ReplaceAllStringFunc(text, r.Unpack)
}

// Len returns the number of registered strings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCode)
}

// Tracker builds provenance records for one job. Long evidence texts are stored in the
// registry and replaced by shortcodes so graph payloads stay small.
type Tracker struct {
	reg      *Registry
	datasets []string
}

// NewTracker creates a Tracker that stamps every record with datasetRefs.
func NewTracker(reg *Registry, datasetRefs ...string) *Tracker {
	if reg == nil {
		reg = NewRegistry(DefaultMinLen)
	}
	return &Tracker{reg: reg, datasets: datasetRefs}
}

// Registry returns the tracker's shortcode registry.
func (t *Tracker) Registry() *Registry {
	return t.reg
}

// AddDatasets adds dataset references stamped on later records.
func (t *Tracker) AddDatasets(refs ...string) {
	t.datasets = append(t.datasets, refs...)
}

// Record builds a compacted provenance record.
func (t *Tracker) Record(source, method, formula string, steps []string, evidence []Evidence) *Record {
	r := New(source, method, formula, steps, evidence).WithDatasets(t.datasets...)
	for i := range r.Evidence {
		r.Evidence[i].Text = t.reg.Register(r.Evidence[i].Text)
	}
	return r
}

// Expand returns a copy of r with evidence shortcodes restored.
func (t *Tracker) Expand(r *Record) *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Evidence = make([]Evidence, len(r.Evidence))
	for i, e := range r.Evidence {
		e.Text = t.reg.Unpack(e.Text)
		out.Evidence[i] = e
	}
	return &out
}
