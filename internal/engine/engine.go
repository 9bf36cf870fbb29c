// Package engine answers chat messages: it classifies the message, tries the
// email directory, ranks candidates from every visible rule source and falls
// back to a rotating apology when nothing qualifies.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"doran/internal/corpus"
	"doran/internal/domain"
	"doran/internal/intent"
	"doran/internal/media"
	"doran/internal/metrics"
	"doran/internal/similarity"
	"doran/internal/textnorm"
)

// TimestampLayout formats reply timestamps at the chat boundary.
const TimestampLayout = "2006-01-02 15:04:05"

// Options tunes scoring and the canned replies.
type Options struct {
	Thresholds       intent.Thresholds
	IntentBoost      float64
	OverlapBoost     float64
	FuzzyThreshold   float64
	ContextWindow    int
	ContextMin       float64
	ContextDecay     float64
	FallbackMessages []string
	EmptyPrompt      string
	// RelatedText replaces the reply of a matched rule that has no text.
	RelatedText string
}

// DefaultOptions returns the lenient profile with the stock boosts and messages.
func DefaultOptions() Options {
	th, _ := intent.Profile(intent.ProfileLenient)
	return Options{
		Thresholds:     th,
		IntentBoost:    0.10,
		OverlapBoost:   0.15,
		FuzzyThreshold: 0.70,
		ContextWindow:  3,
		ContextMin:     0.5,
		ContextDecay:   0.8,
		FallbackMessages: []string{
			"I'm sorry, I didn't quite get that. Could you please rephrase?",
			"Hmm, I'm not sure I understand. Can you try asking differently?",
			"Apologies, I couldn't find an answer. Could you ask something else?",
		},
		EmptyPrompt: "Please type a message to chat with DORAN.",
		RelatedText: "I found something related to your question.",
	}
}

// Deps are the collaborators of an Engine. Rules, Emails and History are required.
type Deps struct {
	Rules      domain.RuleStore
	Emails     domain.EmailDirectory
	History    domain.HistoryStore
	Index      *corpus.Index
	Normalizer *textnorm.Normalizer
	Renderer   *media.Renderer
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

// state is what one request reads: a corpus snapshot and the composer built from it.
type state struct {
	snap     *corpus.Snapshot
	composer *media.Composer
}

// Engine is safe for concurrent use. Requests read an immutable state; rule
// mutations are serialised and publish a new state when they succeed.
type Engine struct {
	opts     Options
	rules    domain.RuleStore
	emails   domain.EmailDirectory
	history  domain.HistoryStore
	index    *corpus.Index
	norm     *textnorm.Normalizer
	scorer   *similarity.Scorer
	renderer *media.Renderer
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	current atomic.Pointer[state]
	writeMu sync.Mutex

	fallbackMu           sync.Mutex
	fallbackIdx          int
	consecutiveFallbacks int
}

// New wires an Engine. Call Rebuild before serving to load the rules.
func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Rules == nil || deps.Emails == nil || deps.History == nil {
		return nil, errors.New("engine: rules, emails and history are required")
	}
	if len(opts.FallbackMessages) == 0 {
		return nil, errors.New("engine: at least one fallback message is required")
	}
	if opts.Thresholds == nil {
		opts.Thresholds = DefaultOptions().Thresholds
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}
	norm := deps.Normalizer
	if norm == nil {
		norm = textnorm.New(textnorm.DefaultCacheSize)
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = media.NewRenderer("")
	}
	index := deps.Index
	if index == nil {
		return nil, errors.New("engine: corpus index is required")
	}
	e := &Engine{
		opts:     opts,
		rules:    deps.Rules,
		emails:   deps.Emails,
		history:  deps.History,
		index:    index,
		norm:     norm,
		scorer:   similarity.NewScorer(norm),
		renderer: renderer,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With().Str("component", "engine").Logger(),
		now:      time.Now,
	}
	e.current.Store(&state{snap: index.Snapshot(), composer: media.NewComposer(renderer, nil)})
	return e, nil
}

// Rebuild reloads every bucket from the rule store and publishes a new corpus.
// A bucket that fails to load is logged and indexed as empty.
func (e *Engine) Rebuild(ctx context.Context) *corpus.Snapshot {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.rebuildLocked(ctx)
}

func (e *Engine) rebuildLocked(ctx context.Context) *corpus.Snapshot {
	sources := make(map[domain.Bucket][]domain.Rule, len(domain.Buckets))
	for _, b := range domain.Buckets {
		rules, err := e.rules.ListRules(ctx, b)
		if err != nil {
			e.logger.Error().Err(err).Str("bucket", string(b)).Msg("failed to load rules")
			continue
		}
		sources[b] = rules
	}
	snap := e.index.Rebuild(sources)
	var locations []domain.Rule
	for _, pos := range snap.RulesIn(domain.BucketLocations) {
		locations = append(locations, snap.Rule(pos))
	}
	e.current.Store(&state{snap: snap, composer: media.NewComposer(e.renderer, locations)})
	e.metrics.ObserveRebuild(snap.Len())
	return snap
}

// Snapshot returns the corpus snapshot requests are currently served from.
func (e *Engine) Snapshot() *corpus.Snapshot { return e.current.Load().snap }

// Request is one chat turn.
type Request struct {
	Message   string
	Role      domain.Role
	SessionID string
}

// Reply is the engine's answer together with how it was reached.
type Reply struct {
	Response  string
	Timestamp time.Time
	Intent    intent.Intent
	Match     MatchType
	Score     float64
}

// Respond answers one message. It never fails: provider errors degrade to
// fewer candidates and, at worst, a fallback reply.
func (e *Engine) Respond(ctx context.Context, req Request) Reply {
	if strings.TrimSpace(req.Message) == "" {
		return Reply{Response: e.opts.EmptyPrompt, Timestamp: e.now(), Intent: intent.Unknown, Match: MatchEmpty}
	}
	start := time.Now()
	it := intent.Classify(req.Message)
	defer func() { e.metrics.ObserveRequest(string(it), time.Since(start)) }()

	if text, ok := e.emailAnswer(ctx, req.Message); ok {
		e.resetFallbacks()
		e.remember(ctx, req, text)
		e.metrics.ObserveEmail()
		return Reply{Response: text, Timestamp: e.now(), Intent: it, Match: MatchEmail, Score: 1}
	}

	st := e.current.Load()
	threshold := e.opts.Thresholds.For(it)
	best, ok := selectBest(e.collect(ctx, st.snap, req, it, threshold))
	if ok {
		e.resetFallbacks()
		text := best.Rule.Text()
		if text == "" {
			text = e.opts.RelatedText
		}
		e.remember(ctx, req, text)
		e.metrics.ObserveSelection(string(best.Match))
		e.logger.Debug().Str("match", string(best.Match)).Float64("score", best.Score).
			Str("category", best.Rule.Category).Str("rule", best.Rule.ID).Msg("candidate selected")
		return Reply{
			Response:  st.composer.Compose(text, best.Rule.Keywords),
			Timestamp: e.now(),
			Intent:    it,
			Match:     best.Match,
			Score:     best.Score,
		}
	}

	text := e.nextFallback()
	e.remember(ctx, req, text)
	e.metrics.ObserveFallback()
	e.logger.Debug().Str("intent", string(it)).Float64("threshold", threshold).Msg("no candidate, falling back")
	return Reply{Response: text, Timestamp: e.now(), Intent: it, Match: MatchFallback}
}

func (e *Engine) remember(ctx context.Context, req Request, response string) {
	if req.SessionID == "" {
		return
	}
	if err := e.history.Append(ctx, req.SessionID, domain.Exchange{Query: req.Message, Response: response}); err != nil {
		e.logger.Error().Err(err).Str("session", req.SessionID).Msg("failed to record exchange")
	}
}

func (e *Engine) nextFallback() string {
	e.fallbackMu.Lock()
	defer e.fallbackMu.Unlock()
	msg := e.opts.FallbackMessages[e.fallbackIdx]
	e.fallbackIdx = (e.fallbackIdx + 1) % len(e.opts.FallbackMessages)
	e.consecutiveFallbacks++
	return msg
}

func (e *Engine) resetFallbacks() {
	e.fallbackMu.Lock()
	e.consecutiveFallbacks = 0
	e.fallbackMu.Unlock()
}

// ConsecutiveFallbacks returns how many replies in a row were fallbacks.
func (e *Engine) ConsecutiveFallbacks() int {
	e.fallbackMu.Lock()
	defer e.fallbackMu.Unlock()
	return e.consecutiveFallbacks
}

// History returns up to n recent exchanges of a session.
func (e *Engine) History(ctx context.Context, sessionID string, n int) ([]domain.Exchange, error) {
	return e.history.Recent(ctx, sessionID, n)
}
