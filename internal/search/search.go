// Package search finds recordings by their titles and transcripts.
//
// [Searcher.Search] combines the store's substring search with a fuzzy,
// phonetic pass over recent days, so a query still finds recordings whose
// transcript spells a name the way the speech model heard it.
// [Searcher.Semantic] embeds the query and asks a vector-capable store for
// the nearest transcripts.
package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/voxlog/pkg/provider/embeddings"
	"github.com/MrWong99/voxlog/pkg/recording"
)

// ErrSemanticUnavailable is returned by [Searcher.Semantic] when no
// embeddings provider or vector index is configured.
var ErrSemanticUnavailable = errors.New("search: semantic search not configured")

// Match kinds reported in [Result.Kind].
const (
	KindExact    = "exact"
	KindPhonetic = "phonetic"
	KindFuzzy    = "fuzzy"
	KindSemantic = "semantic"
)

const (
	defaultLimit   = 20
	defaultMaxDays = 31
)

// Result is a ranked search hit.
type Result struct {
	Recording recording.Recording `json:"recording"`
	Score     float64             `json:"score"`
	Kind      string              `json:"kind"`
}

// Option configures a [Searcher].
type Option func(*Searcher)

// WithMatcher replaces the default fuzzy matcher.
func WithMatcher(m *Matcher) Option {
	return func(s *Searcher) { s.matcher = m }
}

// WithMaxDays limits the fuzzy pass to the newest n day folders.
func WithMaxDays(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.maxDays = n
		}
	}
}

// WithSemantic enables [Searcher.Semantic].
func WithSemantic(e embeddings.Provider, index recording.VectorIndex) Option {
	return func(s *Searcher) {
		s.embedder = e
		s.index = index
	}
}

// Searcher answers recording queries. It is safe for concurrent use.
type Searcher struct {
	repo     *recording.Repository
	matcher  *Matcher
	maxDays  int
	embedder embeddings.Provider
	index    recording.VectorIndex
}

// New creates a Searcher over repo.
func New(repo *recording.Repository, opts ...Option) *Searcher {
	s := &Searcher{repo: repo, matcher: NewMatcher(), maxDays: defaultMaxDays}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SemanticEnabled reports whether [Searcher.Semantic] is usable.
func (s *Searcher) SemanticEnabled() bool { return s.embedder != nil && s.index != nil }

// Search returns up to limit recordings matching query. Substring hits rank
// first; fuzzy hits follow by score, newest first on ties.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Result{}, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	exact, err := s.repo.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	results := make([]Result, 0, limit)
	seen := make(map[int64]struct{}, len(exact))
	for _, rec := range exact {
		results = append(results, Result{Recording: rec, Score: 1, Kind: KindExact})
		seen[rec.ID] = struct{}{}
	}
	if len(results) >= limit {
		return results[:limit], nil
	}

	days, err := s.repo.Days(ctx)
	if err != nil {
		return nil, fmt.Errorf("search: list days: %w", err)
	}
	if len(days) > s.maxDays {
		days = days[:s.maxDays]
	}
	var fuzzy []Result
	for _, day := range days {
		recs, err := s.repo.Store().ByDay(ctx, day)
		if err != nil {
			return nil, fmt.Errorf("search: list %s: %w", day, err)
		}
		for _, rec := range recs {
			if _, dup := seen[rec.ID]; dup {
				continue
			}
			score, phonetic, ok := s.matcher.Score(query, rec.AITitle+" "+rec.Transcription)
			if !ok {
				continue
			}
			kind := KindFuzzy
			if phonetic {
				kind = KindPhonetic
			}
			fuzzy = append(fuzzy, Result{Recording: rec, Score: score, Kind: kind})
		}
	}
	slices.SortStableFunc(fuzzy, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return b.Recording.Timestamp.Compare(a.Recording.Timestamp)
	})
	results = append(results, fuzzy...)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Semantic returns the recordings whose transcript embeddings are closest
// to the embedding of query. Score is 1/(1+distance).
func (s *Searcher) Semantic(ctx context.Context, query string, limit int) ([]Result, error) {
	if !s.SemanticEnabled() {
		return nil, ErrSemanticUnavailable
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []Result{}, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	matches, err := s.index.SemanticSearch(ctx, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("search: semantic: %w", err)
	}
	out := make([]Result, 0, len(matches))
	for _, m := range matches {
		out = append(out, Result{Recording: m.Recording, Score: 1 / (1 + m.Distance), Kind: KindSemantic})
	}
	return out, nil
}
