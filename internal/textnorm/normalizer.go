// Package textnorm turns free text into the canonical token string every
// scorer compares against. Normalisation is pure and memoised by input.
package textnorm

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/kljensen/snowball"
	"golang.org/x/text/unicode/norm"
)

// DefaultCacheSize bounds the memo of normalised strings.
const DefaultCacheSize = 4096

// contractions is applied in order; the specific forms must precede the generic n't.
var contractions = []struct{ from, to string }{
	{"can't", "cannot"},
	{"won't", "will not"},
	{"n't", " not"},
	{"'re", " are"},
	{"'ve", " have"},
	{"'ll", " will"},
	{"'d", " would"},
	{"'m", " am"},
}

var (
	disallowedRe  = regexp.MustCompile(`[^\p{L}\p{N}_\s-]+`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	simpleTokenRe = regexp.MustCompile(`[\p{L}\p{N}_]+(?:-[\p{L}\p{N}_]+)*`)
	apostropheRpl = strings.NewReplacer("’", "'", "‘", "'", "`", "'")
)

// Normalizer lowercases, expands contractions, strips punctuation, removes
// stopwords and lemmatises. It is safe for concurrent use.
type Normalizer struct {
	cache *lru.Cache
}

// New creates a Normalizer memoising up to cacheSize inputs. A size <= 0 disables the memo.
func New(cacheSize int) *Normalizer {
	n := &Normalizer{}
	if cacheSize > 0 {
		c, err := lru.New(cacheSize)
		if err == nil {
			n.cache = c
		}
	}
	return n
}

// Normalize returns the canonical form of text.
func (n *Normalizer) Normalize(text string) string {
	if n.cache != nil {
		if v, ok := n.cache.Get(text); ok {
			return v.(string)
		}
	}
	out := strings.Join(n.tokens(text), " ")
	if n.cache != nil {
		n.cache.Add(text, out)
	}
	return out
}

// Tokens returns the normalised tokens of text.
func (n *Normalizer) Tokens(text string) []string {
	s := n.Normalize(text)
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

func (n *Normalizer) tokens(text string) []string {
	s := norm.NFKC.String(text)
	s = strings.ToLower(s)
	s = apostropheRpl.Replace(s)
	for _, c := range contractions {
		s = strings.ReplaceAll(s, c.from, c.to)
	}
	s = disallowedRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
	if s == "" {
		return nil
	}
	raw := strings.Fields(s)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if IsStopword(tok) || len([]rune(tok)) <= 1 {
			continue
		}
		out = append(out, Lemmatize(tok))
	}
	return out
}

// Lemmatize reduces a lowercase token to its English base form.
func Lemmatize(tok string) string {
	if strings.Contains(tok, "-") {
		parts := strings.Split(tok, "-")
		for i, p := range parts {
			parts[i] = Lemmatize(p)
		}
		return strings.Join(parts, "-")
	}
	stem, err := snowball.Stem(tok, "english", true)
	if err != nil || stem == "" {
		return tok
	}
	return stem
}

// SimpleTokens lowercases text and splits it into word tokens, keeping
// hyphenated words whole. No stopword removal or lemmatisation is applied.
func SimpleTokens(text string) []string {
	return simpleTokenRe.FindAllString(strings.ToLower(text), -1)
}

// TokenSet returns the distinct SimpleTokens of text.
func TokenSet(text string) map[string]struct{} {
	toks := SimpleTokens(text)
	m := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		m[t] = struct{}{}
	}
	return m
}
