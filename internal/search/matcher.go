package search

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a token whose
// Double Metaphone codes overlap the query token. Default: 0.70.
func WithPhoneticThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a token without
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher scores free text against a query, tolerating the misspellings
// speech recognition tends to produce ("sinclare" finds "Sinclair").
//
// Every query token must be matched by some token of the text, either
// phonetically (Double Metaphone overlap plus a Jaro-Winkler floor) or by
// plain Jaro-Winkler similarity above a higher floor. The score is the mean
// of the per-token best similarities. Matcher is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a Matcher with the default thresholds.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Score reports how well text matches query. phonetic is true when at least
// one query token needed the phonetic path.
func (m *Matcher) Score(query, text string) (score float64, phonetic, ok bool) {
	qTokens := tokenize(query)
	tTokens := tokenize(text)
	if len(qTokens) == 0 || len(tTokens) == 0 {
		return 0, false, false
	}

	tCodes := make([]map[string]struct{}, len(tTokens))
	for i, tok := range tTokens {
		tCodes[i] = codes(tok)
	}

	var total float64
	for _, q := range qTokens {
		qc := codes(q)
		best, bestPhonetic := 0.0, false
		for i, tok := range tTokens {
			jw := matchr.JaroWinkler(q, tok, false)
			if q == tok {
				jw = 1
			}
			switch {
			case jw >= m.fuzzyThreshold && jw > best:
				best, bestPhonetic = jw, false
			case overlap(qc, tCodes[i]) && jw >= m.phoneticThreshold && jw > best:
				best, bestPhonetic = jw, true
			}
		}
		if best == 0 {
			return 0, false, false
		}
		total += best
		phonetic = phonetic || bestPhonetic
	}
	return total / float64(len(qTokens)), phonetic, true
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// codes returns the non-empty Double Metaphone codes of tok.
func codes(tok string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(tok)
	if p != "" {
		out[p] = struct{}{}
	}
	if s != "" {
		out[s] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
