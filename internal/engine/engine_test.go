package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doran/internal/corpus"
	"doran/internal/domain"
	"doran/internal/embedding"
	"doran/internal/embedding/tfidf"
	"doran/internal/session"
	"doran/internal/store"
	"doran/internal/textnorm"
)

func fixtureRules() []domain.Rule {
	q := domain.NewQuestionSet
	return []domain.Rule{
		{ID: "lib", Bucket: domain.BucketRules, Questions: q("Where is the library?"), Response: "The library is in Building A", UserType: domain.UserTypeBoth},
		{ID: "hours", Bucket: domain.BucketRules, Questions: q("What are the library hours?", "When does the library open?"), Response: "The library is open 8am to 5pm."},
		{ID: "enroll", Bucket: domain.BucketRules, Questions: q("How do I enroll?", "What are the enrollment requirements?"), Response: "Submit your documents to the registrar."},
		{ID: "grading", Bucket: domain.BucketRules, Questions: q("How do I access the grading portal?"), Response: "portal-for-users"},
		{ID: "wifi-user", Bucket: domain.BucketRules, Questions: q("What is the wifi password?"), Response: "wifi-for-users"},
		{ID: "wifi-guest", Bucket: domain.BucketGuest, Questions: q("What is the wifi password?"), Response: "wifi-for-guests"},
		{ID: "visit", Bucket: domain.BucketGuest, Questions: q("Can visitors tour the campus?"), Response: "Campus tours run every Friday."},
		{ID: "gym", Bucket: domain.BucketLocations, Questions: q("Where is the gym?"), Response: "Behind building B"},
		{ID: "parking", Bucket: domain.BucketFAQs, Questions: q("Is there student parking?"), Answer: "Yes, in lot C."},
	}
}

var fixtureEmails = []domain.EmailEntry{
	{School: "Registrar Office", Email: "registrar@example.edu"},
	{School: "SOICT", Email: "soict@example.edu"},
}

type harness struct {
	engine  *Engine
	store   store.Store
	history *session.MemoryStore
}

func newHarness(t *testing.T, rules []domain.Rule, emails []domain.EmailEntry) *harness {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	if len(rules) > 0 {
		require.NoError(t, st.AddRules(ctx, rules...))
	}
	for _, e := range emails {
		_, err := st.AddEmail(ctx, e.School, e.Email)
		require.NoError(t, err)
	}
	return newHarnessWith(t, st, st)
}

func newHarnessWith(t *testing.T, rules domain.RuleStore, emails domain.EmailDirectory) *harness {
	t.Helper()
	norm := textnorm.New(textnorm.DefaultCacheSize)
	factory := func() embedding.Embedder { return tfidf.NewEmbedder(tfidf.DefaultOptions()) }
	history := session.NewMemoryStore(session.Options{})
	e, err := New(Deps{
		Rules:      rules,
		Emails:     emails,
		History:    history,
		Index:      corpus.NewIndex(factory, norm, zerolog.Nop()),
		Normalizer: norm,
		Logger:     zerolog.Nop(),
	}, DefaultOptions())
	require.NoError(t, err)
	e.Rebuild(context.Background())
	st, _ := rules.(store.Store)
	return &harness{engine: e, store: st, history: history}
}

func (h *harness) ask(role domain.Role, msg string) Reply {
	return h.engine.Respond(context.Background(), Request{Message: msg, Role: role})
}

func TestRespond_LibraryScenario(t *testing.T) {
	h := newHarness(t, fixtureRules(), fixtureEmails)
	reply := h.ask(domain.RoleUser, "where is the library")

	assert.Equal(t, MatchTFIDF, reply.Match)
	assert.Equal(t, "The library is in Building A", reply.Response)
	assert.GreaterOrEqual(t, reply.Score, DefaultOptions().Thresholds.For(reply.Intent))
}

func TestRespond_ExactQuestionSelectsTFIDF(t *testing.T) {
	h := newHarness(t, fixtureRules(), fixtureEmails)
	tests := []struct {
		query string
		want  string
		match MatchType
	}{
		{"Where is the library?", "The library is in Building A", MatchTFIDF},
		{"What are the library hours?", "The library is open 8am to 5pm.", MatchTFIDF},
		{"When does the library open?", "The library is open 8am to 5pm.", MatchTFIDF},
		{"How do I enroll?", "Submit your documents to the registrar.", MatchTFIDF},
		{"Where is the gym?", "Behind building B", MatchTFIDF},
		{"Is there student parking?", "Yes, in lot C.", MatchFAQ},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			reply := h.ask(domain.RoleUser, tc.query)
			assert.Equal(t, tc.match, reply.Match)
			assert.Equal(t, tc.want, reply.Response)
		})
	}
}

func TestRebuild_Idempotent(t *testing.T) {
	h := newHarness(t, fixtureRules(), nil)
	first := h.ask(domain.RoleUser, "library opening hours")
	firstScores := h.engine.Snapshot().Score("library opening hours")

	h.engine.Rebuild(context.Background())
	second := h.ask(domain.RoleUser, "library opening hours")

	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, firstScores, h.engine.Snapshot().Score("library opening hours"))
}

func TestRespond_RoleFilteringIsAbsolute(t *testing.T) {
	h := newHarness(t, fixtureRules(), nil)

	assert.Equal(t, "wifi-for-users", h.ask(domain.RoleUser, "What is the wifi password?").Response)
	assert.Equal(t, "wifi-for-guests", h.ask(domain.RoleGuest, "What is the wifi password?").Response)

	guest := h.ask(domain.RoleGuest, "How do I access the grading portal?")
	assert.NotContains(t, guest.Response, "portal-for-users")

	user := h.ask(domain.RoleUser, "Can visitors tour the campus?")
	assert.NotContains(t, user.Response, "Campus tours")

	// location rules are visible to both roles
	assert.Equal(t, "Behind building B", h.ask(domain.RoleGuest, "Where is the gym?").Response)
}

func TestRespond_FallbackRotation(t *testing.T) {
	h := newHarness(t, fixtureRules(), nil)
	want := DefaultOptions().FallbackMessages

	got := []string{
		h.ask(domain.RoleUser, "qwerty asdf").Response,
		h.ask(domain.RoleUser, "zzzz yyyy").Response,
		h.ask(domain.RoleUser, "blorp").Response,
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 3, h.engine.ConsecutiveFallbacks())

	fourth := h.ask(domain.RoleUser, "plugh xyzzy")
	assert.Equal(t, MatchFallback, fourth.Match)
	assert.Equal(t, want[0], fourth.Response)
	assert.Equal(t, 4, h.engine.ConsecutiveFallbacks())

	h.ask(domain.RoleUser, "Where is the library?")
	assert.Equal(t, 0, h.engine.ConsecutiveFallbacks())
}

func TestRespond_EmptyInputHasNoSideEffects(t *testing.T) {
	h := newHarness(t, fixtureRules(), nil)
	ctx := context.Background()

	h.engine.Respond(ctx, Request{Message: "qwerty asdf", Role: domain.RoleUser, SessionID: "s1"})
	require.Equal(t, 1, h.engine.ConsecutiveFallbacks())

	for _, msg := range []string{"", "   ", "\n\t"} {
		reply := h.engine.Respond(ctx, Request{Message: msg, Role: domain.RoleUser, SessionID: "s1"})
		assert.Equal(t, "Please type a message to chat with DORAN.", reply.Response)
		assert.Equal(t, MatchEmpty, reply.Match)
	}
	assert.Equal(t, 1, h.engine.ConsecutiveFallbacks())
	hist, err := h.engine.History(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, hist, 1)

	// the rotation did not advance either
	assert.Equal(t, DefaultOptions().FallbackMessages[1], h.ask(domain.RoleUser, "zzzz yyyy").Response)
}

func TestRespond_HistoryIsCapped(t *testing.T) {
	h := newHarness(t, fixtureRules(), nil)
	ctx := context.Background()
	for i := 1; i <= 12; i++ {
		h.engine.Respond(ctx, Request{Message: fmt.Sprintf("message %d", i), Role: domain.RoleUser, SessionID: "s1"})
	}
	hist, err := h.engine.History(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 10)
	assert.Equal(t, "message 3", hist[0].Query)
	assert.Equal(t, "message 12", hist[9].Query)

	other, _ := h.engine.History(ctx, "s2", 0)
	assert.Empty(t, other)
}

func TestRespond_EmailShortCircuit(t *testing.T) {
	rules := append(fixtureRules(), domain.Rule{
		ID: "soict-email", Bucket: domain.BucketRules,
		Questions: domain.NewQuestionSet("What is the email of SOICT?"), Response: "rule answer",
	})
	h := newHarness(t, rules, fixtureEmails)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"directory beats a rule", "What is the email of SOICT?", "Here are the relevant email contacts:\n- SOICT: soict@example.edu"},
		{"bare registrar", "Where is the registrar?", "registrar@example.edu"},
		{"registrar email", "registrar email please", "registrar@example.edu"},
		{"full directory", "registrar data", "Here is the full email directory:\n- Registrar Office: registrar@example.edu\n- SOICT: soict@example.edu"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reply := h.ask(domain.RoleUser, tc.query)
			assert.Equal(t, MatchEmail, reply.Match)
			assert.Equal(t, tc.want, reply.Response)
		})
	}

	t.Run("no directory match falls through", func(t *testing.T) {
		reply := h.ask(domain.RoleUser, "How do I send feedback?")
		assert.NotEqual(t, MatchEmail, reply.Match)
	})
}

func TestRespond_EmailDirectoryFailureDegrades(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.AddRules(context.Background(), fixtureRules()...))
	h := newHarnessWith(t, st, failingEmails{st})

	reply := h.ask(domain.RoleUser, "What is the email of SOICT?")
	assert.NotEqual(t, MatchEmail, reply.Match)
	assert.NotEmpty(t, reply.Response)
}

func TestRespond_ContextCarriesTopic(t *testing.T) {
	h := newHarness(t, fixtureRules(), nil)
	ctx := context.Background()

	first := h.engine.Respond(ctx, Request{Message: "What are the library hours?", Role: domain.RoleUser, SessionID: "s1"})
	require.Equal(t, MatchTFIDF, first.Match)

	follow := h.engine.Respond(ctx, Request{Message: "what about weekends", Role: domain.RoleUser, SessionID: "s1"})
	assert.Equal(t, MatchContext, follow.Match)
	assert.Equal(t, "The library is open 8am to 5pm.", follow.Response)
	assert.InDelta(t, 0.8, follow.Score, 1e-6)

	// no session, no context
	alone := h.ask(domain.RoleUser, "what about weekends")
	assert.Equal(t, MatchFallback, alone.Match)
}

func TestRespond_ComposerAppendsKeywordMedia(t *testing.T) {
	rules := []domain.Rule{
		{ID: "lib", Bucket: domain.BucketRules, Questions: domain.NewQuestionSet("Where is the library?"),
			Response: "The library is in Building A", Keywords: []string{"library"}},
		{ID: "lib-loc", Bucket: domain.BucketLocations, Questions: domain.NewQuestionSet("Where is the library building?"),
			Description: "Main library", MediaURLs: []string{"library.jpg"}},
		{ID: "gym", Bucket: domain.BucketRules, Questions: domain.NewQuestionSet("Where is the gym?"), Response: "Behind building B"},
	}
	h := newHarness(t, rules, nil)

	reply := h.ask(domain.RoleUser, "Where is the library?")
	assert.Equal(t, "The library is in Building A<img src='/static/library.jpg' alt='Chatbot Image' class='message-image'>", reply.Response)

	// no keywords, no media
	assert.Equal(t, "Behind building B", h.ask(domain.RoleUser, "Where is the gym?").Response)
}

func TestAdmin_AddEditDelete(t *testing.T) {
	h := newHarness(t, fixtureRules(), nil)
	ctx := context.Background()

	ids, err := h.engine.AddRule(ctx, NewRule{
		Questions: []string{"Where is the cafeteria?"},
		Response:  "Ground floor of Building C",
		UserType:  domain.UserTypeBoth,
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, ids[domain.BucketRules], ids[domain.BucketGuest])

	assert.Equal(t, "Ground floor of Building C", h.ask(domain.RoleUser, "where is the cafeteria").Response)
	assert.Equal(t, "Ground floor of Building C", h.ask(domain.RoleGuest, "where is the cafeteria").Response)

	resp := "Building A, second floor"
	edited, err := h.engine.EditRule(ctx, "", "lib", RulePatch{Response: &resp})
	require.NoError(t, err)
	assert.Equal(t, domain.BucketRules, edited.Bucket)
	assert.Equal(t, resp, h.ask(domain.RoleUser, "Where is the library?").Response)

	moved := "Building C, ground floor"
	edited, err = h.engine.EditRule(ctx, "", ids[domain.BucketRules], RulePatch{Response: &moved})
	require.NoError(t, err)
	assert.Equal(t, domain.BucketRules, edited.Bucket)
	assert.Equal(t, moved, h.ask(domain.RoleUser, "where is the cafeteria").Response)
	assert.Equal(t, moved, h.ask(domain.RoleGuest, "where is the cafeteria").Response)

	n, err := h.engine.DeleteRule(ctx, "", ids[domain.BucketRules])
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NotEqual(t, "Ground floor of Building C", h.ask(domain.RoleUser, "where is the cafeteria").Response)

	_, err = h.engine.DeleteRule(ctx, "", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.engine.EditRule(ctx, domain.BucketGuest, "lib", RulePatch{Response: &resp})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdmin_RejectedAddLeavesIndex(t *testing.T) {
	h := newHarness(t, fixtureRules(), nil)
	before := h.engine.Snapshot()

	_, err := h.engine.AddRule(context.Background(), NewRule{Response: "no questions"})
	assert.ErrorIs(t, err, domain.ErrInvalidRule)
	assert.Same(t, before, h.engine.Snapshot())
}

func TestAdmin_AddLocationRendersMedia(t *testing.T) {
	h := newHarness(t, fixtureRules(), nil)
	ctx := context.Background()

	ids, err := h.engine.AddRule(ctx, NewRule{
		Category:    domain.CategoryLocations,
		Questions:   []string{"Where is the chapel?"},
		Description: "Next to the main gate",
		MediaURLs:   []string{"chapel.jpg"},
	})
	require.NoError(t, err)
	require.Contains(t, ids, domain.BucketLocations)

	rules, err := h.engine.ListRules(ctx, domain.BucketLocations)
	require.NoError(t, err)
	var chapel domain.Rule
	for _, r := range rules {
		if r.ID == ids[domain.BucketLocations] {
			chapel = r
		}
	}
	assert.Equal(t, "Next to the main gate<br><img src='/static/chapel.jpg' alt='Location Image' class='message-image'>", chapel.Response)
	assert.Equal(t, chapel.Response, h.ask(domain.RoleGuest, "Where is the chapel?").Response)
}

func TestRebuild_FailingBucketIsSkipped(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.AddRules(context.Background(), fixtureRules()...))
	h := newHarnessWith(t, failingBucket{Memory: st, bucket: domain.BucketGuest}, st)

	assert.Empty(t, h.engine.Snapshot().RulesIn(domain.BucketGuest))
	assert.Equal(t, "The library is in Building A", h.ask(domain.RoleUser, "Where is the library?").Response)
}

func TestRespond_ConcurrentWithRebuild(t *testing.T) {
	h := newHarness(t, fixtureRules(), fixtureEmails)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				reply := h.engine.Respond(ctx, Request{Message: "Where is the library?", Role: domain.RoleUser, SessionID: fmt.Sprint(w)})
				assert.Equal(t, "The library is in Building A", reply.Response)
			}
		}(w)
	}
	for i := 0; i < 10; i++ {
		h.engine.Rebuild(ctx)
	}
	wg.Wait()
}

func TestSelectBest(t *testing.T) {
	r := func(id string) domain.Rule { return domain.Rule{ID: id} }
	tests := []struct {
		name  string
		cands []Candidate
		want  string
	}{
		{"highest score", []Candidate{{r("a"), 0.5, MatchTFIDF}, {r("b"), 0.9, MatchFuzzy}}, "b"},
		{"tie goes to tfidf", []Candidate{{r("a"), 1.0, MatchJaccard}, {r("b"), 1.0 - 1e-12, MatchTFIDF}}, "b"},
		{"faq beats context", []Candidate{{r("a"), 0.8, MatchContext}, {r("b"), 0.8, MatchFAQ}}, "b"},
		{"first seen on full tie", []Candidate{{r("a"), 0.7, MatchJaccard}, {r("b"), 0.7, MatchJaccard}}, "a"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			best, ok := selectBest(tc.cands)
			require.True(t, ok)
			assert.Equal(t, tc.want, best.Rule.ID)
		})
	}
	_, ok := selectBest(nil)
	assert.False(t, ok)
}

type failingEmails struct{ domain.EmailDirectory }

func (failingEmails) ListEmails(context.Context) ([]domain.EmailEntry, error) {
	return nil, errors.New("directory offline")
}

type failingBucket struct {
	*store.Memory
	bucket domain.Bucket
}

func (f failingBucket) ListRules(ctx context.Context, b domain.Bucket) ([]domain.Rule, error) {
	if b == f.bucket {
		return nil, errors.New("bucket offline")
	}
	return f.Memory.ListRules(ctx, b)
}
