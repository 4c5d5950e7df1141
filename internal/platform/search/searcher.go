package search

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// CandidateSource fetches the pool of records a query is ranked against.
// Implementations may pre-filter loosely; the predicate is always re-applied.
type CandidateSource interface {
	FetchCandidates(ctx context.Context, term string, limit int) ([]Candidate, error)
}

// CandidateSourceFunc adapts a function to CandidateSource.
type CandidateSourceFunc func(ctx context.Context, term string, limit int) ([]Candidate, error)

func (f CandidateSourceFunc) FetchCandidates(ctx context.Context, term string, limit int) ([]Candidate, error) {
	return f(ctx, term, limit)
}

const (
	defaultPoolLimit   = 50
	defaultResultLimit = 20
)

// Searcher ranks a query against pools fetched from a CandidateSource.
type Searcher struct {
	source      CandidateSource
	logger      zerolog.Logger
	poolLimit   int
	resultLimit int
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithPoolLimit caps how many records are fetched per pool.
func WithPoolLimit(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.poolLimit = n
		}
	}
}

// WithLimit caps how many ranked results are returned. Zero or less disables the cap.
func WithLimit(n int) Option {
	return func(s *Searcher) { s.resultLimit = n }
}

// NewSearcher creates a Searcher over source.
func NewSearcher(source CandidateSource, logger zerolog.Logger, opts ...Option) *Searcher {
	s := &Searcher{
		source:      source,
		logger:      logger,
		poolLimit:   defaultPoolLimit,
		resultLimit: defaultResultLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search ranks raw against the pool fetched for the whole query. When that
// pool has no match and the query has several words, the pool is broadened
// once: one pool is fetched per word, the pools are unioned by identifier and
// the full query is ranked again against the union.
func (s *Searcher) Search(ctx context.Context, raw string) ([]Result, error) {
	q := ParseQuery(raw)
	if q.Empty() {
		return []Result{}, nil
	}

	pool, err := s.source.FetchCandidates(ctx, q.Normalized, s.poolLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	results := RankResults(q, pool)

	if len(results) == 0 && q.MultiToken() {
		broadened, err := s.broadenPool(ctx, q)
		if err != nil {
			return nil, err
		}
		s.logger.Debug().
			Str("query", q.Normalized).
			Int("tokens", len(q.Tokens)).
			Int("pool", len(broadened)).
			Msg("no match in primary pool, retrying against per-token pool")
		results = RankResults(q, broadened)
	}

	if s.resultLimit > 0 && len(results) > s.resultLimit {
		results = results[:s.resultLimit]
	}
	return results, nil
}

// broadenPool fetches one pool per query token and unions them.
func (s *Searcher) broadenPool(ctx context.Context, q Query) ([]Candidate, error) {
	pools := make([][]Candidate, 0, len(q.Tokens))
	for _, tok := range q.Tokens {
		pool, err := s.source.FetchCandidates(ctx, tok, s.poolLimit)
		if err != nil {
			return nil, fmt.Errorf("fetch candidates for %q: %w", tok, err)
		}
		pools = append(pools, pool)
	}
	return Union(pools...), nil
}
