package tfidf

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Options tunes vocabulary construction.
type Options struct {
	// NgramMax is the largest n-gram size; 2 gives unigrams and bigrams.
	NgramMax int
	// MinDF drops terms found in fewer documents.
	MinDF int
	// MaxDF drops terms found in more than this fraction of documents.
	MaxDF float64
}

// DefaultOptions mirrors the unigram+bigram, min_df=1, max_df=0.95 setup.
func DefaultOptions() Options {
	return Options{NgramMax: 2, MinDF: 1, MaxDF: 0.95}
}

// Embedder implements a TF-IDF vectorizer over already-normalised text.
// Prepare fits the vocabulary and IDF values; Embed transforms without refitting.
// A prepared Embedder is read-only and safe for concurrent Embed calls.
type Embedder struct {
	opts         Options
	vocabulary   map[string]int
	idf          []float64
	dimension    int
	prepared     bool
	tokenPattern *regexp.Regexp
}

// NewEmbedder creates an unprepared TF-IDF embedder.
func NewEmbedder(opts Options) *Embedder {
	if opts.NgramMax <= 0 {
		opts.NgramMax = 1
	}
	if opts.MinDF <= 0 {
		opts.MinDF = 1
	}
	if opts.MaxDF <= 0 || opts.MaxDF > 1 {
		opts.MaxDF = 1
	}
	return &Embedder{
		opts:         opts,
		vocabulary:   make(map[string]int),
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}_]{2,}`),
	}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "tfidf" }

// ErrEmptyCorpus is returned by Prepare when there is nothing to fit.
var ErrEmptyCorpus = errors.New("empty corpus for TF-IDF prepare")

// Prepare builds the vocabulary and IDF values from the provided corpus.
func (e *Embedder) Prepare(corpus []string) error {
	if len(corpus) == 0 {
		return ErrEmptyCorpus
	}
	// Build vocabulary and document frequencies
	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, term := range e.terms(text) {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			df[term]++
		}
	}
	N := float64(len(corpus))
	maxCount := e.opts.MaxDF * N
	// Create stable ordering for vocabulary
	terms := make([]string, 0, len(df))
	for term, count := range df {
		if count < e.opts.MinDF || float64(count) > maxCount {
			continue
		}
		terms = append(terms, term)
	}
	// max_df pruning would wipe out tiny corpora where every term is in every document
	if len(terms) == 0 {
		for term, count := range df {
			if count >= e.opts.MinDF {
				terms = append(terms, term)
			}
		}
	}
	sort.Strings(terms)
	if len(terms) == 0 {
		return errors.New("no tokens found in corpus")
	}
	e.vocabulary = make(map[string]int, len(terms))
	e.idf = make([]float64, len(terms))
	for i, term := range terms {
		e.vocabulary[term] = i
		// Smoothed IDF
		e.idf[i] = math.Log((1+N)/(1+float64(df[term]))) + 1.0
	}
	e.dimension = len(terms)
	e.prepared = true
	return nil
}

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed computes the L2-normalised TF-IDF vector for the given text.
func (e *Embedder) Embed(text string) ([]float64, error) {
	if !e.prepared {
		return nil, errors.New("tfidf embedder not prepared")
	}
	vec := make([]float64, e.dimension)
	tf := make(map[int]int)
	for _, term := range e.terms(text) {
		if idx, ok := e.vocabulary[term]; ok {
			tf[idx]++
		}
	}
	if len(tf) == 0 {
		return vec, nil
	}
	for idx, count := range tf {
		vec[idx] = float64(count) * e.idf[idx]
	}
	// L2 normalize
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// terms returns the unigrams and higher n-grams of text, in order.
func (e *Embedder) terms(text string) []string {
	tokens := e.tokenPattern.FindAllString(strings.ToLower(text), -1)
	if len(tokens) == 0 {
		return nil
	}
	out := make([]string, 0, len(tokens)*e.opts.NgramMax)
	out = append(out, tokens...)
	for n := 2; n <= e.opts.NgramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}
