// Package reconcile matches records that two independent sources report for
// the same real-world items, and folds the matches into a caller-owned
// SelectionSet. Matching is conjunctive field equality after normalization,
// never a fuzzy score: both sides are expected to describe the same entity.
package reconcile

import (
	"github.com/clinicdesk/frontdesk/internal/platform/textnorm"
)

// Record is a small tuple of free-text fields plus the identifier it carries
// in its own source. Fields are compared position by position; a missing
// position compares as the empty string.
type Record struct {
	ID     string   `json:"id"`
	Fields []string `json:"fields"`
}

// NewRecord is shorthand for Record{ID: id, Fields: fields}.
func NewRecord(id string, fields ...string) Record {
	return Record{ID: id, Fields: fields}
}

// Field returns the i-th field or "" when absent.
func (r Record) Field(i int) string {
	if i < 0 || i >= len(r.Fields) {
		return ""
	}
	return r.Fields[i]
}

func (r Record) keys() []string {
	out := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		out[i] = textnorm.Key(f)
	}
	return out
}

// Result is the outcome of reconciling a secondary source against a master one.
type Result struct {
	// MatchedIDs are master identifiers, in the order their first match was found.
	MatchedIDs []string `json:"matched_ids"`
	// UnmatchedB are secondary records with no master counterpart.
	UnmatchedB []Record `json:"unmatched"`
}

// Reconcile looks up every record of b in a and reports the identifier of the
// first record of a whose fields all equal it after normalization.
func Reconcile(a, b []Record) Result {
	res := Result{MatchedIDs: []string{}, UnmatchedB: []Record{}}
	if len(b) == 0 {
		return res
	}

	master := make([][]string, len(a))
	for i, rec := range a {
		master[i] = rec.keys()
	}

	seen := make(map[string]struct{})
	for _, rec := range b {
		want := rec.keys()
		idx := firstMatch(master, want)
		if idx < 0 {
			res.UnmatchedB = append(res.UnmatchedB, rec)
			continue
		}
		id := a[idx].ID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		res.MatchedIDs = append(res.MatchedIDs, id)
	}
	return res
}

func firstMatch(master [][]string, want []string) int {
	for i, keys := range master {
		if keysEqual(keys, want) {
			return i
		}
	}
	return -1
}

func keysEqual(a, b []string) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if at(a, i) != at(b, i) {
			return false
		}
	}
	return true
}

func at(keys []string, i int) string {
	if i < len(keys) {
		return keys[i]
	}
	return ""
}

// ApplyPreselect folds a reconciliation result into sel. Field matches always
// win. The preselected hint is a lower-fidelity list of ids and is merged only
// when reconciliation matched nothing and sel is still empty.
func ApplyPreselect(sel SelectionSet, res Result, preselected []string) SelectionSet {
	if len(res.MatchedIDs) > 0 {
		return sel.Merge(res.MatchedIDs...)
	}
	if sel.Len() == 0 && len(preselected) > 0 {
		return sel.Merge(preselected...)
	}
	return sel
}
