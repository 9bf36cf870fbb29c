// Package corpus flattens every rule's question variants into one ordered
// corpus, fits the vectorizer over it and publishes the result as an
// immutable snapshot.
package corpus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"doran/internal/domain"
	"doran/internal/embedding"
	"doran/internal/textnorm"
)

// Entry is one question variant of one rule.
type Entry struct {
	Rule       int
	Question   string
	Normalized string
}

// Span is the half-open range of corpus entries owned by a rule.
type Span struct {
	Start, End int
}

// Len returns the number of entries in the span.
func (s Span) Len() int { return s.End - s.Start }

// Snapshot is a fully built corpus. It is never mutated after publication.
type Snapshot struct {
	Version uint64
	BuiltAt time.Time

	rules    []domain.Rule
	spans    []Span
	entries  []Entry
	byBucket map[domain.Bucket][]int

	normalizer *textnorm.Normalizer
	embedder   embedding.Embedder
	matrix     [][]float64
}

// Rules returns every indexed rule in corpus order.
func (s *Snapshot) Rules() []domain.Rule { return s.rules }

// Rule returns the rule at position i.
func (s *Snapshot) Rule(i int) domain.Rule { return s.rules[i] }

// Span returns the entry range of rule i.
func (s *Snapshot) Span(i int) Span { return s.spans[i] }

// Entries returns the flattened corpus.
func (s *Snapshot) Entries() []Entry { return s.entries }

// Len returns the number of corpus entries.
func (s *Snapshot) Len() int { return len(s.entries) }

// RulesIn returns the positions of the rules of the given buckets, bucket by bucket.
func (s *Snapshot) RulesIn(buckets ...domain.Bucket) []int {
	var out []int
	for _, b := range buckets {
		out = append(out, s.byBucket[b]...)
	}
	return out
}

// Usable reports whether TF-IDF scoring is available.
func (s *Snapshot) Usable() bool { return s.embedder != nil && len(s.matrix) > 0 }

// Score returns the cosine similarity of query against every corpus entry,
// or nil when the snapshot is unusable.
func (s *Snapshot) Score(query string) []float64 {
	if !s.Usable() {
		return nil
	}
	vec, err := s.embedder.Embed(s.normalizer.Normalize(query))
	if err != nil {
		return nil
	}
	scores := make([]float64, len(s.matrix))
	for i, row := range s.matrix {
		scores[i] = embedding.Cosine(row, vec)
	}
	return scores
}

// RuleScore returns the best entry score of rule i and the position of that entry.
// A rule without entries scores 0 at position -1.
func (s *Snapshot) RuleScore(scores []float64, i int) (float64, int) {
	sp := s.spans[i]
	if sp.Len() == 0 || sp.End > len(scores) {
		return 0, -1
	}
	best, at := scores[sp.Start], sp.Start
	for j := sp.Start + 1; j < sp.End; j++ {
		if scores[j] > best {
			best, at = scores[j], j
		}
	}
	return best, at
}

// Index owns the current snapshot. Readers call Snapshot once per request and
// keep using that value; Rebuild publishes a new snapshot atomically.
type Index struct {
	mu         sync.Mutex
	current    atomic.Pointer[Snapshot]
	version    uint64
	newEmbed   embedding.Factory
	normalizer *textnorm.Normalizer
	logger     zerolog.Logger
}

// NewIndex creates an index holding an empty, unusable snapshot.
func NewIndex(newEmbed embedding.Factory, normalizer *textnorm.Normalizer, logger zerolog.Logger) *Index {
	if normalizer == nil {
		normalizer = textnorm.New(textnorm.DefaultCacheSize)
	}
	idx := &Index{
		newEmbed:   newEmbed,
		normalizer: normalizer,
		logger:     logger.With().Str("component", "corpus").Logger(),
	}
	idx.current.Store(&Snapshot{byBucket: map[domain.Bucket][]int{}, normalizer: normalizer})
	return idx
}

// Snapshot returns the currently published snapshot.
func (x *Index) Snapshot() *Snapshot { return x.current.Load() }

// Rebuild flattens the given buckets, refits the vectorizer and publishes the result.
// Buckets are laid out in domain.Buckets order. An empty corpus yields an unusable snapshot.
func (x *Index) Rebuild(sources map[domain.Bucket][]domain.Rule) *Snapshot {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.version++
	snap := &Snapshot{
		Version:    x.version,
		BuiltAt:    time.Now(),
		byBucket:   make(map[domain.Bucket][]int, len(domain.Buckets)),
		normalizer: x.normalizer,
	}
	for _, b := range domain.Buckets {
		for _, r := range sources[b] {
			r.Bucket = b
			r = r.Normalize()
			pos := len(snap.rules)
			start := len(snap.entries)
			for _, q := range r.Questions {
				snap.entries = append(snap.entries, Entry{Rule: pos, Question: q, Normalized: x.normalizer.Normalize(q)})
			}
			snap.rules = append(snap.rules, r)
			snap.spans = append(snap.spans, Span{Start: start, End: len(snap.entries)})
			snap.byBucket[b] = append(snap.byBucket[b], pos)
		}
	}

	if err := x.fit(snap); err != nil {
		x.logger.Warn().Err(err).Int("entries", len(snap.entries)).Msg("tf-idf disabled for this snapshot")
	} else {
		x.logger.Info().Int("rules", len(snap.rules)).Int("entries", len(snap.entries)).
			Int("dimension", snap.embedder.Dimension()).Uint64("version", snap.Version).Msg("corpus rebuilt")
	}
	x.current.Store(snap)
	return snap
}

func (x *Index) fit(snap *Snapshot) error {
	if len(snap.entries) == 0 {
		return errors.New("empty corpus")
	}
	if x.newEmbed == nil {
		return errors.New("no embedder configured")
	}
	docs := make([]string, len(snap.entries))
	for i, e := range snap.entries {
		docs[i] = e.Normalized
	}
	emb := x.newEmbed()
	if err := emb.Prepare(docs); err != nil {
		return err
	}
	matrix := make([][]float64, len(docs))
	for i, d := range docs {
		v, err := emb.Embed(d)
		if err != nil {
			return err
		}
		matrix[i] = v
	}
	snap.embedder = emb
	snap.matrix = matrix
	return nil
}
