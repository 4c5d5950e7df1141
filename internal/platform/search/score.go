package search

import "strings"

// Identifier axis weights.
const (
	scoreIDExact  = 1000
	scoreIDPrefix = 800
	scoreIDSubstr = 600
)

// Contact axis weights. Exact and contains are independent checks, so an
// exact contact match earns both.
const (
	scoreContactExact    = 200
	scoreContactContains = 100
)

// Name axis weights for multi-token queries.
const (
	scoreFullNamePrefix  = 500
	scoreFirstTokenFirst = 450
	scoreSecondTokenMid  = 425
	scoreLastTokenLast   = 400
	scoreTokensPresent   = 350
)

// Name axis weights for single-token queries.
const (
	scoreFirstPrefix  = 500
	scoreLastPrefix   = 450
	scoreMiddlePrefix = 400
	scoreFullContains = 300
	scoreFallback     = 200
)

// Breakdown is the per-axis contribution to a candidate's score.
type Breakdown struct {
	Identifier int `json:"identifier"`
	Contact    int `json:"contact"`
	Name       int `json:"name"`
}

// Total is the sum of all axes.
func (b Breakdown) Total() int {
	return b.Identifier + b.Contact + b.Name
}

// Score computes the ordering weight of c for q. It is meaningful only for
// candidates that already satisfy Matches.
func Score(q Query, c Candidate) Breakdown {
	if q.Empty() {
		return Breakdown{}
	}
	return scoreView(q, newView(c))
}

func scoreView(q Query, v view) Breakdown {
	return Breakdown{
		Identifier: identifierScore(q, v),
		Contact:    contactScore(q, v),
		Name:       nameScore(q, v),
	}
}

func identifierScore(q Query, v view) int {
	switch {
	case v.id == "":
		return 0
	case v.id == q.Normalized:
		return scoreIDExact
	case strings.HasPrefix(v.id, q.Normalized):
		return scoreIDPrefix
	case strings.Contains(v.id, q.Normalized):
		return scoreIDSubstr
	}
	return 0
}

func contactScore(q Query, v view) int {
	if !q.hasContactDigits() || v.contact == "" {
		return 0
	}
	score := 0
	if v.contact == q.Digits {
		score += scoreContactExact
	}
	if strings.Contains(v.contact, q.Digits) {
		score += scoreContactContains
	}
	return score
}

func nameScore(q Query, v view) int {
	if q.MultiToken() {
		return multiTokenNameScore(q, v)
	}
	return singleTokenNameScore(q.Tokens[0], v)
}

func multiTokenNameScore(q Query, v view) int {
	for _, tok := range q.Tokens {
		if !strings.Contains(v.full, tok) {
			return 0
		}
	}
	first, last := q.Tokens[0], q.Tokens[len(q.Tokens)-1]
	switch {
	case strings.HasPrefix(v.full, q.Normalized):
		return scoreFullNamePrefix
	case strings.HasPrefix(v.first, first):
		return scoreFirstTokenFirst
	case len(q.Tokens) > 1 && strings.HasPrefix(v.middle, q.Tokens[1]):
		return scoreSecondTokenMid
	case strings.HasPrefix(v.last, last):
		return scoreLastTokenLast
	}
	return scoreTokensPresent
}

func singleTokenNameScore(tok string, v view) int {
	switch {
	case strings.HasPrefix(v.first, tok):
		return scoreFirstPrefix
	case strings.HasPrefix(v.last, tok):
		return scoreLastPrefix
	case strings.HasPrefix(v.middle, tok):
		return scoreMiddlePrefix
	case strings.Contains(v.full, tok):
		return scoreFullContains
	}
	return scoreFallback
}
