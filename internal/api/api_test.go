package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doran/internal/corpus"
	"doran/internal/domain"
	"doran/internal/embedding"
	"doran/internal/embedding/tfidf"
	"doran/internal/engine"
	"doran/internal/metrics"
	"doran/internal/session"
	"doran/internal/store"
	"doran/internal/textnorm"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.AddRules(ctx,
		domain.Rule{Bucket: domain.BucketRules, Questions: domain.NewQuestionSet("Where is the library?"),
			Response: "The library is in Building A", UserType: domain.UserTypeBoth},
		domain.Rule{Bucket: domain.BucketRules, Questions: domain.NewQuestionSet("How do I access the grading portal?"),
			Response: "portal-for-users"},
	))
	_, err := st.AddEmail(ctx, "SOICT", "soict@example.edu")
	require.NoError(t, err)

	norm := textnorm.New(textnorm.DefaultCacheSize)
	m := metrics.New()
	eng, err := engine.New(engine.Deps{
		Rules:      st,
		Emails:     st,
		History:    session.NewMemoryStore(session.Options{}),
		Index:      corpus.NewIndex(func() embedding.Embedder { return tfidf.NewEmbedder(tfidf.DefaultOptions()) }, norm, zerolog.Nop()),
		Normalizer: norm,
		Metrics:    m,
		Logger:     zerolog.Nop(),
	}, engine.DefaultOptions())
	require.NoError(t, err)
	eng.Rebuild(ctx)

	srv := httptest.NewServer(NewRouter(eng, m, zerolog.Nop(), time.Second))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestChat(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		req  ChatRequest
		want string
	}{
		{"user match", ChatRequest{Message: "where is the library", Role: "user"}, "The library is in Building A"},
		{"role defaults to user", ChatRequest{Message: "How do I access the grading portal?"}, "portal-for-users"},
		{"empty message", ChatRequest{Message: "  ", Role: "guest"}, "Please type a message to chat with DORAN."},
		{"email directory", ChatRequest{Message: "email of soict", Role: "guest"}, "Here are the relevant email contacts:\n- SOICT: soict@example.edu"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, srv, http.MethodPost, "/api/v1/chat", tc.req)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			body := decode[ChatResponse](t, resp)
			assert.Equal(t, tc.want, body.Response)
			_, err := time.Parse(engine.TimestampLayout, body.Timestamp)
			assert.NoError(t, err)
		})
	}

	t.Run("guest cannot see user rules", func(t *testing.T) {
		resp := do(t, srv, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "How do I access the grading portal?", Role: "guest"})
		body := decode[ChatResponse](t, resp)
		assert.NotEqual(t, "portal-for-users", body.Response)
	})

	t.Run("bad body", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/chat", bytes.NewBufferString("{"))
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestChatHistory(t *testing.T) {
	srv := newTestServer(t)
	for _, msg := range []string{"where is the library", "thanks"} {
		do(t, srv, http.MethodPost, "/api/v1/chat", ChatRequest{Message: msg, SessionID: "abc"})
	}
	resp := do(t, srv, http.MethodGet, "/api/v1/sessions/abc/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hist := decode[[]domain.Exchange](t, resp)
	require.Len(t, hist, 2)
	assert.Equal(t, "where is the library", hist[0].Query)
	assert.Equal(t, "The library is in Building A", hist[0].Response)
}

func TestRuleAdmin(t *testing.T) {
	srv := newTestServer(t)

	q := domain.NewQuestionSet("Where is the cafeteria?")
	resp := "Ground floor of Building C"
	both := domain.UserTypeBoth
	created := do(t, srv, http.MethodPost, "/api/v1/rules", RuleRequest{Questions: &q, Response: &resp, UserType: &both})
	require.Equal(t, http.StatusCreated, created.StatusCode)
	ids := decode[map[string]map[domain.Bucket]string](t, created)["ids"]
	require.Len(t, ids, 2)
	id := ids[domain.BucketRules]

	chat := decode[ChatResponse](t, do(t, srv, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "where is the cafeteria", Role: "guest"}))
	assert.Equal(t, resp, chat.Response)

	updated := "Building C, ground floor"
	edit := do(t, srv, http.MethodPut, "/api/v1/rules/"+id+"?bucket=guest_rules", RuleRequest{Response: &updated})
	require.Equal(t, http.StatusOK, edit.StatusCode)
	assert.Equal(t, updated, decode[domain.Rule](t, edit).Response)
	chat = decode[ChatResponse](t, do(t, srv, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "where is the cafeteria", Role: "guest"}))
	assert.Equal(t, updated, chat.Response)

	list := decode[map[domain.Bucket][]domain.Rule](t, do(t, srv, http.MethodGet, "/api/v1/rules?bucket=guest_rules", nil))
	assert.Len(t, list[domain.BucketGuest], 1)

	del := do(t, srv, http.MethodDelete, "/api/v1/rules/"+id, nil)
	require.Equal(t, http.StatusOK, del.StatusCode)
	assert.Equal(t, 2, decode[map[string]int](t, del)["deleted"])

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodDelete, "/api/v1/rules/"+id, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/v1/rules", RuleRequest{Response: &resp}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/v1/rules?bucket=nope", nil).StatusCode)
}

func TestRuleAdmin_SingularFieldsAndBothCopies(t *testing.T) {
	srv := newTestServer(t)

	body := map[string]any{"category": "faqs", "question": "Is there parking?", "answer": "Yes, lot C."}
	created := do(t, srv, http.MethodPost, "/api/v1/rules", body)
	require.Equal(t, http.StatusCreated, created.StatusCode)
	faqID := decode[map[string]map[domain.Bucket]string](t, created)["ids"][domain.BucketFAQs]
	require.NotEmpty(t, faqID)

	chat := decode[ChatResponse](t, do(t, srv, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "Is there parking?"}))
	assert.Equal(t, "Yes, lot C.", chat.Response)

	body = map[string]any{"question": "Where is the pool?", "response": "Sports hall", "user_type": "both"}
	created = do(t, srv, http.MethodPost, "/api/v1/rules", body)
	require.Equal(t, http.StatusCreated, created.StatusCode)
	id := decode[map[string]map[domain.Bucket]string](t, created)["ids"][domain.BucketRules]

	edit := do(t, srv, http.MethodPut, "/api/v1/rules/"+id, map[string]any{"answer": "Sports hall, basement"})
	require.Equal(t, http.StatusOK, edit.StatusCode)
	for _, role := range []string{"user", "guest"} {
		chat = decode[ChatResponse](t, do(t, srv, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "where is the pool", Role: role}))
		assert.Equal(t, "Sports hall, basement", chat.Response, role)
	}
}

func TestEmailAdmin(t *testing.T) {
	srv := newTestServer(t)

	created := do(t, srv, http.MethodPost, "/api/v1/emails", EmailRequest{School: "Registrar Office", Email: "registrar@example.edu"})
	require.Equal(t, http.StatusCreated, created.StatusCode)
	entry := decode[domain.EmailEntry](t, created)
	require.NotZero(t, entry.ID)

	chat := decode[ChatResponse](t, do(t, srv, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "Where is the registrar?"}))
	assert.Equal(t, "registrar@example.edu", chat.Response)

	path := "/api/v1/emails/" + strconv.FormatInt(entry.ID, 10)
	upd := do(t, srv, http.MethodPut, path, EmailRequest{School: "Registrar Office", Email: "records@example.edu"})
	require.Equal(t, http.StatusOK, upd.StatusCode)

	entries := decode[[]domain.EmailEntry](t, do(t, srv, http.MethodGet, "/api/v1/emails", nil))
	assert.Len(t, entries, 2)

	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodDelete, path, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodDelete, path, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodDelete, "/api/v1/emails/abc", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/v1/emails", EmailRequest{School: "x"}).StatusCode)
}

func TestRebuildHealthMetrics(t *testing.T) {
	srv := newTestServer(t)

	rb := do(t, srv, http.MethodPost, "/api/v1/index/rebuild", nil)
	require.Equal(t, http.StatusOK, rb.StatusCode)
	body := decode[map[string]any](t, rb)
	assert.Equal(t, float64(2), body["rules"])
	assert.Equal(t, true, body["usable"])

	health := decode[map[string]any](t, do(t, srv, http.MethodGet, "/health", nil))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, float64(2), health["entries"])

	do(t, srv, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "where is the library"})
	m := do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, m.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(m.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "doran_chat_requests_total")
	assert.Contains(t, buf.String(), "doran_corpus_rebuilds_total")
}
