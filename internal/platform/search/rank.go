package search

import "sort"

// Result is a matching candidate with its score.
type Result struct {
	Candidate Candidate `json:"candidate"`
	Score     int       `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
}

// Rank returns the candidates matching raw, strongest first. Equal scores keep
// their input order. A blank query yields an empty, non-nil slice.
func Rank(raw string, candidates []Candidate) []Candidate {
	results := RankResults(ParseQuery(raw), candidates)
	out := make([]Candidate, len(results))
	for i, r := range results {
		out[i] = r.Candidate
	}
	return out
}

// RankResults filters candidates through the match predicate, scores the
// survivors and stable-sorts them by descending score.
func RankResults(q Query, candidates []Candidate) []Result {
	results := make([]Result, 0)
	if q.Empty() {
		return results
	}
	for _, c := range candidates {
		v := newView(c)
		if !matchView(q, v) {
			continue
		}
		b := scoreView(q, v)
		results = append(results, Result{Candidate: c, Score: b.Total(), Breakdown: b})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// Union merges candidate pools by identifier; the first occurrence of an
// identifier wins and pool order is preserved.
func Union(pools ...[]Candidate) []Candidate {
	seen := make(map[string]struct{})
	var out []Candidate
	for _, pool := range pools {
		for _, c := range pool {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
