// Package search ranks person records against a free-text query typed into a
// front-desk autocomplete box. Matching is a fixed predicate over the record's
// identifier, contact number and name parts; ordering is a fixed additive
// heuristic with a stable tie-break on input order.
package search

import (
	"github.com/clinicdesk/frontdesk/internal/platform/textnorm"
)

// Candidate is a person record considered for ranked search. Attributes carry
// scoping data (clinic, doctor, ward) that is preserved but never scored.
type Candidate struct {
	ID         string            `json:"id" yaml:"id"`
	FirstName  string            `json:"first_name,omitempty" yaml:"first_name"`
	MiddleName string            `json:"middle_name,omitempty" yaml:"middle_name"`
	LastName   string            `json:"last_name,omitempty" yaml:"last_name"`
	Contact    string            `json:"contact,omitempty" yaml:"contact"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes"`
}

// Query is a parsed search string.
type Query struct {
	Raw        string
	Normalized string
	Tokens     []string
	// Digits is the digit-only subsequence of Raw, used for contact matching.
	Digits string
}

// ParseQuery normalizes raw into its comparable forms.
func ParseQuery(raw string) Query {
	n := textnorm.Normalize(raw)
	return Query{
		Raw:        raw,
		Normalized: n,
		Tokens:     textnorm.Tokens(n),
		Digits:     textnorm.Digits(raw),
	}
}

// Empty reports whether the query has nothing to match on.
func (q Query) Empty() bool { return q.Normalized == "" }

// MultiToken reports whether the query has more than one word.
func (q Query) MultiToken() bool { return len(q.Tokens) > 1 }

// minContactDigits is the shortest digit run that is compared against contacts.
const minContactDigits = 3

func (q Query) hasContactDigits() bool { return len(q.Digits) >= minContactDigits }

// view is a candidate with every derived comparison string computed once.
type view struct {
	id        string
	first     string
	middle    string
	last      string
	full      string // "first middle last"
	firstLast string // "first last"
	lastFirst string // "last first"
	contact   string // digits only
}

func newView(c Candidate) view {
	return view{
		id:        textnorm.Normalize(c.ID),
		first:     textnorm.Normalize(c.FirstName),
		middle:    textnorm.Normalize(c.MiddleName),
		last:      textnorm.Normalize(c.LastName),
		full:      textnorm.JoinName(c.FirstName, c.MiddleName, c.LastName),
		firstLast: textnorm.JoinName(c.FirstName, c.LastName),
		lastFirst: textnorm.JoinName(c.LastName, c.FirstName),
		contact:   textnorm.Digits(c.Contact),
	}
}
