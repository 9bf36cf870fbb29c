// Package similarity holds the secondary scorers used next to TF-IDF:
// token-set Jaccard, edit-distance fuzzy matching and the phrasing-overlap test.
package similarity

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"doran/internal/textnorm"
)

// Match is the best-scoring question of a rule. Index is -1 when nothing scored.
type Match struct {
	Index int
	Score float64
}

var noMatch = Match{Index: -1}

// Scorer compares a query against a rule's question variants.
type Scorer struct {
	norm *textnorm.Normalizer
}

// NewScorer returns a Scorer using n for normalisation.
func NewScorer(n *textnorm.Normalizer) *Scorer {
	if n == nil {
		n = textnorm.New(textnorm.DefaultCacheSize)
	}
	return &Scorer{norm: n}
}

// BestJaccard returns the question with the highest Jaccard score against query,
// both sides reduced to their normalised token sets.
func (s *Scorer) BestJaccard(query string, questions []string) Match {
	qs := toSet(s.norm.Tokens(query))
	if len(qs) == 0 {
		return noMatch
	}
	best := noMatch
	for i, q := range questions {
		score := Jaccard(qs, toSet(s.norm.Tokens(q)))
		if best.Index < 0 || score > best.Score {
			best = Match{Index: i, Score: score}
		}
	}
	return best
}

// BestFuzzy returns the question with the highest fuzzy score against query.
func (s *Scorer) BestFuzzy(query string, questions []string) Match {
	best := noMatch
	for i, q := range questions {
		score := Fuzzy(query, q)
		if best.Index < 0 || score > best.Score {
			best = Match{Index: i, Score: score}
		}
	}
	return best
}

// Jaccard is |a∩b| / |a∪b|; two empty sets score 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// HasOverlap reports whether query shares at least three simple tokens with one of
// the questions, or at least 60% of the larger of the two token sets.
func HasOverlap(query string, questions []string) bool {
	user := textnorm.TokenSet(query)
	if len(user) == 0 {
		return false
	}
	for _, q := range questions {
		qw := textnorm.TokenSet(q)
		common := 0
		for t := range user {
			if _, ok := qw[t]; ok {
				common++
			}
		}
		larger := len(user)
		if len(qw) > larger {
			larger = len(qw)
		}
		if common >= 3 || float64(common)/float64(larger) >= 0.6 {
			return true
		}
	}
	return false
}

// Fuzzy is the maximum of Ratio and the sorted-token and token-set ratios, in [0, 1].
func Fuzzy(a, b string) float64 {
	ta, tb := textnorm.SimpleTokens(a), textnorm.SimpleTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	best := Ratio(strings.Join(ta, " "), strings.Join(tb, " "))
	if v := tokenSortRatio(ta, tb); v > best {
		best = v
	}
	if v := tokenSetRatio(ta, tb); v > best {
		best = v
	}
	return best
}

// Ratio is one minus the Levenshtein distance over the longer length.
func Ratio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(fuzzy.LevenshteinDistance(a, b))/float64(longest)
}

func tokenSortRatio(a, b []string) float64 {
	return Ratio(sortedJoin(a), sortedJoin(b))
}

func tokenSetRatio(a, b []string) float64 {
	sa, sb := toSet(a), toSet(b)
	var inter, onlyA, onlyB []string
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter = append(inter, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range sb {
		if _, ok := sa[t]; !ok {
			onlyB = append(onlyB, t)
		}
	}
	base := sortedJoin(inter)
	left := strings.TrimSpace(base + " " + sortedJoin(onlyA))
	right := strings.TrimSpace(base + " " + sortedJoin(onlyB))

	best := Ratio(left, right)
	if base != "" {
		if v := Ratio(base, left); v > best {
			best = v
		}
		if v := Ratio(base, right); v > best {
			best = v
		}
	}
	return best
}

func sortedJoin(tokens []string) string {
	cp := append([]string(nil), tokens...)
	sort.Strings(cp)
	return strings.Join(cp, " ")
}

func toSet(tokens []string) map[string]struct{} {
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}
