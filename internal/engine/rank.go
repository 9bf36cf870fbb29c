package engine

import (
	"context"

	"doran/internal/corpus"
	"doran/internal/domain"
	"doran/internal/intent"
	"doran/internal/similarity"
)

// MatchType tags how a reply was reached.
type MatchType string

const (
	MatchTFIDF   MatchType = "tfidf"
	MatchJaccard MatchType = "jaccard"
	MatchFAQ     MatchType = "faq"
	MatchContext MatchType = "context"
	MatchFuzzy   MatchType = "fuzzy"

	MatchEmail    MatchType = "email"
	MatchFallback MatchType = "fallback"
	MatchEmpty    MatchType = "empty"
)

// tie-break order, lower wins
var matchPriority = map[MatchType]int{
	MatchTFIDF:   0,
	MatchJaccard: 1,
	MatchFAQ:     2,
	MatchContext: 3,
	MatchFuzzy:   4,
}

// scores closer than this are ties; identical questions rarely give a cosine of exactly 1
const tieEpsilon = 1e-9

// Candidate is one scored rule produced while ranking a request.
type Candidate struct {
	Rule  domain.Rule
	Score float64
	Match MatchType
}

// selectBest returns the highest-scoring candidate. Ties go to the stronger
// match type, then to the earliest candidate.
func selectBest(cands []Candidate) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		switch {
		case c.Score > best.Score+tieEpsilon:
			best = c
		case c.Score >= best.Score-tieEpsilon && matchPriority[c.Match] < matchPriority[best.Match]:
			best = c
		}
	}
	return best, true
}

// visibleBuckets lists the rule sources a role may draw from, FAQs excluded.
func visibleBuckets(role domain.Role) []domain.Bucket {
	if role == domain.RoleGuest {
		return []domain.Bucket{domain.BucketGuest, domain.BucketLocations, domain.BucketVisuals}
	}
	return []domain.Bucket{domain.BucketRules, domain.BucketGuest, domain.BucketLocations, domain.BucketVisuals}
}

// visibleRules returns the snapshot positions of rules the role may see.
func visibleRules(snap *corpus.Snapshot, role domain.Role, buckets ...domain.Bucket) []int {
	var out []int
	for _, pos := range snap.RulesIn(buckets...) {
		if snap.Rule(pos).UserType.VisibleTo(role) {
			out = append(out, pos)
		}
	}
	return out
}

func (e *Engine) boost(score float64, r domain.Rule, it intent.Intent, message string) float64 {
	if it.MatchesCategory(r.Category) {
		score += e.opts.IntentBoost
	}
	if similarity.HasOverlap(message, r.Questions) {
		score += e.opts.OverlapBoost
	}
	return score
}

// collect gathers every qualifying candidate for req. Role filtering happens
// before any scoring so hidden rules never compete.
func (e *Engine) collect(ctx context.Context, snap *corpus.Snapshot, req Request, it intent.Intent, threshold float64) []Candidate {
	visible := visibleRules(snap, req.Role, visibleBuckets(req.Role)...)
	scores := snap.Score(req.Message)

	var cands []Candidate
	if scores != nil {
		for _, pos := range visible {
			s, _ := snap.RuleScore(scores, pos)
			if s < threshold {
				continue
			}
			r := snap.Rule(pos)
			cands = append(cands, Candidate{Rule: r, Score: e.boost(s, r, it, req.Message), Match: MatchTFIDF})
		}
	}

	for _, pos := range visible {
		r := snap.Rule(pos)
		m := e.scorer.BestJaccard(req.Message, r.Questions)
		if m.Index < 0 || m.Score < threshold {
			continue
		}
		cands = append(cands, Candidate{Rule: r, Score: e.boost(m.Score, r, it, req.Message), Match: MatchJaccard})
	}

	if len(cands) == 0 {
		for _, pos := range visible {
			r := snap.Rule(pos)
			m := e.scorer.BestFuzzy(req.Message, r.Questions)
			if m.Index >= 0 && m.Score >= e.opts.FuzzyThreshold {
				cands = append(cands, Candidate{Rule: r, Score: m.Score, Match: MatchFuzzy})
			}
		}
	}

	if scores != nil {
		if c, ok := bestFAQ(snap, scores, req.Role, threshold); ok {
			cands = append(cands, c)
		}
	}

	return append(cands, e.contextCandidates(ctx, snap, req, visible)...)
}

// bestFAQ returns at most one candidate: the highest-scoring FAQ at or above threshold.
func bestFAQ(snap *corpus.Snapshot, scores []float64, role domain.Role, threshold float64) (Candidate, bool) {
	var (
		best  Candidate
		found bool
	)
	for _, pos := range visibleRules(snap, role, domain.BucketFAQs) {
		s, _ := snap.RuleScore(scores, pos)
		if s < threshold || (found && s <= best.Score) {
			continue
		}
		best, found = Candidate{Rule: snap.Rule(pos), Score: s, Match: MatchFAQ}, true
	}
	return best, found
}

// contextCandidates scores the visible rules against the session's recent
// queries; strong matches come back at a decayed score.
func (e *Engine) contextCandidates(ctx context.Context, snap *corpus.Snapshot, req Request, visible []int) []Candidate {
	if req.SessionID == "" || e.opts.ContextWindow <= 0 || !snap.Usable() {
		return nil
	}
	recent, err := e.history.Recent(ctx, req.SessionID, e.opts.ContextWindow)
	if err != nil {
		e.logger.Error().Err(err).Str("session", req.SessionID).Msg("failed to read history")
		return nil
	}
	var out []Candidate
	for _, ex := range recent {
		prev := snap.Score(ex.Query)
		if prev == nil {
			continue
		}
		for _, pos := range visible {
			s, _ := snap.RuleScore(prev, pos)
			if s >= e.opts.ContextMin {
				out = append(out, Candidate{Rule: snap.Rule(pos), Score: s * e.opts.ContextDecay, Match: MatchContext})
			}
		}
	}
	return out
}
