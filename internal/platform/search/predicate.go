package search

import "strings"

// Matches reports whether c qualifies for q at all. A candidate qualifies when
// any of the identifier, contact, multi-token name or single-token name rules
// holds. An empty query matches nothing.
func Matches(q Query, c Candidate) bool {
	if q.Empty() {
		return false
	}
	return matchView(q, newView(c))
}

func matchView(q Query, v view) bool {
	if v.id != "" && strings.Contains(v.id, q.Normalized) {
		return true
	}
	if q.hasContactDigits() && v.contact != "" && strings.Contains(v.contact, q.Digits) {
		return true
	}
	if q.MultiToken() {
		return allTokensInNames(q.Tokens, v)
	}
	if len(q.Tokens) == 1 {
		return tokenInNames(q.Tokens[0], v)
	}
	return false
}

// allTokensInNames requires each token to appear in at least one of the
// "first middle last", "first last" or "last first" forms.
func allTokensInNames(tokens []string, v view) bool {
	for _, tok := range tokens {
		if !strings.Contains(v.full, tok) &&
			!strings.Contains(v.firstLast, tok) &&
			!strings.Contains(v.lastFirst, tok) {
			return false
		}
	}
	return true
}

func tokenInNames(tok string, v view) bool {
	for _, name := range []string{v.first, v.middle, v.last, v.full, v.firstLast, v.lastFirst} {
		if name != "" && strings.Contains(name, tok) {
			return true
		}
	}
	return false
}
