// Package provenance records how every surfaced number was computed and from which
// input records.
package provenance

import (
	"slices"
	"strings"
)

// Evidence points at one real input record.
type Evidence struct {
	Text   string `json:"text,omitempty"`
	URL    string `json:"url,omitempty"`
	Author string `json:"author,omitempty"`
	Date   string `json:"date,omitempty"`
}

// IsZero reports whether e carries nothing.
func (e Evidence) IsZero() bool {
	return strings.TrimSpace(e.Text) == "" && e.URL == "" && e.Author == "" && e.Date == ""
}

// CalculationDetails describes the computation behind a value.
type CalculationDetails struct {
	Formula     string   `json:"formula"`
	Steps       []string `json:"steps,omitempty"`
	DatasetRefs []string `json:"datasetRefs,omitempty"`
}

// Record is the provenance of one node or one field.
type Record struct {
	Source             string             `json:"source"`
	Method             string             `json:"method"`
	CalculationDetails CalculationDetails `json:"calculationDetails"`
	Evidence           []Evidence         `json:"evidence"`
}

// New builds a Record. Empty evidence entries are dropped; the evidence slice is never
// nil so an absence of evidence is explicit.
func New(source, method, formula string, steps []string, evidence []Evidence) *Record {
	ev := make([]Evidence, 0, len(evidence))
	for _, e := range evidence {
		if !e.IsZero() {
			ev = append(ev, e)
		}
	}
	return &Record{
		Source: source,
		Method: method,
		CalculationDetails: CalculationDetails{
			Formula: formula,
			Steps:   steps,
		},
		Evidence: ev,
	}
}

// WithDatasets returns r with refs appended to its dataset references.
func (r *Record) WithDatasets(refs ...string) *Record {
	for _, ref := range refs {
		if ref != "" && !slices.Contains(r.CalculationDetails.DatasetRefs, ref) {
			r.CalculationDetails.DatasetRefs = append(r.CalculationDetails.DatasetRefs, ref)
		}
	}
	return r
}
