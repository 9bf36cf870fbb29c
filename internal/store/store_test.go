package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doran/internal/domain"
	"doran/internal/media"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	out := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(context.Background(), ":memory:")
			require.NoError(t, err)
			return s
		},
	}
	if dsn := os.Getenv("DORAN_TEST_POSTGRES_DSN"); dsn != "" {
		out["postgres"] = func(t *testing.T) Store {
			p, err := OpenPostgres(context.Background(), dsn)
			require.NoError(t, err)
			_, err = p.Pool.Exec(context.Background(), `TRUNCATE rules, emails RESTART IDENTITY`)
			require.NoError(t, err)
			return p
		}
	}
	return out
}

func TestStore_Rules(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			err := s.AddRules(ctx,
				domain.Rule{Bucket: domain.BucketRules, Questions: domain.NewQuestionSet("Where is the library?"), Response: "Building A", Keywords: []string{"library"}},
				domain.Rule{ID: "g1", Bucket: domain.BucketGuest, Questions: domain.NewQuestionSet("Visitor parking?"), Response: "Lot C"},
				domain.Rule{ID: "l1", Bucket: domain.BucketLocations, Questions: domain.NewQuestionSet("Where is the gym?"), Description: "Behind B", MediaURLs: []string{"gym.jpg"}},
			)
			require.NoError(t, err)

			rules, err := s.ListRules(ctx, domain.BucketRules)
			require.NoError(t, err)
			require.Len(t, rules, 1)
			assert.NotEmpty(t, rules[0].ID)
			assert.Equal(t, domain.UserTypeUser, rules[0].UserType)
			assert.Equal(t, []string{"library"}, rules[0].Keywords)
			assert.Equal(t, domain.QuestionSet{"Where is the library?"}, rules[0].Questions)

			locs, err := s.ListRules(ctx, domain.BucketLocations)
			require.NoError(t, err)
			require.Len(t, locs, 1)
			assert.Equal(t, domain.CategoryLocations, locs[0].Category)
			assert.Equal(t, domain.UserTypeBoth, locs[0].UserType)
			assert.Equal(t, []string{"gym.jpg"}, locs[0].MediaURLs)

			upd := locs[0]
			upd.Description = "Next to the pool"
			require.NoError(t, s.UpdateRule(ctx, upd))
			locs, _ = s.ListRules(ctx, domain.BucketLocations)
			assert.Equal(t, "Next to the pool", locs[0].Description)

			missing := upd
			missing.ID = "nope"
			assert.ErrorIs(t, s.UpdateRule(ctx, missing), domain.ErrNotFound)

			ok, err := s.DeleteRule(ctx, domain.BucketGuest, "g1")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = s.DeleteRule(ctx, domain.BucketGuest, "g1")
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = s.ListRules(ctx, domain.Bucket("bogus"))
			assert.ErrorIs(t, err, domain.ErrUnknownBucket)
		})
	}
}

func TestStore_AddRulesIsAtomic(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			require.NoError(t, s.AddRules(ctx, domain.Rule{ID: "dup", Bucket: domain.BucketRules, Questions: domain.NewQuestionSet("a"), Response: "x"}))
			err := s.AddRules(ctx,
				domain.Rule{ID: "fresh", Bucket: domain.BucketGuest, Questions: domain.NewQuestionSet("b"), Response: "y"},
				domain.Rule{ID: "dup", Bucket: domain.BucketRules, Questions: domain.NewQuestionSet("c"), Response: "z"},
			)
			require.Error(t, err)

			guest, err := s.ListRules(ctx, domain.BucketGuest)
			require.NoError(t, err)
			assert.Empty(t, guest, "no partial write")

			err = s.AddRules(ctx, domain.Rule{Bucket: domain.BucketRules, Response: "no questions"})
			assert.ErrorIs(t, err, domain.ErrInvalidRule)
		})
	}
}

func TestStore_Emails(t *testing.T) {
	ctx := context.Background()
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			id, err := s.AddEmail(ctx, "Registrar", "registrar@example.edu")
			require.NoError(t, err)
			_, err = s.AddEmail(ctx, "SOICT", "soict@example.edu")
			require.NoError(t, err)

			list, err := s.ListEmails(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "Registrar", list[0].School)

			ok, err := s.UpdateEmail(ctx, id, "Registrar Office", "office@example.edu")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = s.UpdateEmail(ctx, 9999, "x", "y")
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = s.DeleteEmail(ctx, id)
			require.NoError(t, err)
			assert.True(t, ok)
			list, _ = s.ListEmails(ctx)
			require.Len(t, list, 1)
			assert.Equal(t, "SOICT", list[0].School)

			_, err = s.AddEmail(ctx, "", "a@b")
			assert.Error(t, err)
		})
	}
}

const seedDoc = `
rules:
  - questions: ["Where is the library?", ["Library location?"]]
    response: The library is in Building A
    user_type: both
location_rules:
  - id: loc-1
    questions: Where is the gym?
    description: Behind building B
    urls: [gym.jpg]
faq_rules:
  - questions: ["Is there parking?"]
    answer: Yes, lot C.
emails:
  - school: Registrar
    email: registrar@example.edu
`

func TestSeed_LoadAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedDoc), 0o600))

	seed, err := LoadSeed(path)
	require.NoError(t, err)

	ctx := context.Background()
	st := NewMemory()
	empty, err := IsEmpty(ctx, st)
	require.NoError(t, err)
	assert.True(t, empty)

	n, err := seed.Apply(ctx, st, media.NewRenderer(""))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err := LoadAll(ctx, st)
	require.NoError(t, err)
	require.Len(t, all[domain.BucketRules], 1)
	assert.Equal(t, domain.QuestionSet{"Where is the library?", "Library location?"}, all[domain.BucketRules][0].Questions)
	assert.Equal(t, domain.UserTypeBoth, all[domain.BucketRules][0].UserType)

	require.Len(t, all[domain.BucketLocations], 1)
	assert.Equal(t, "loc-1", all[domain.BucketLocations][0].ID)
	assert.Equal(t, "Behind building B<br><img src='/static/gym.jpg' alt='Location Image' class='message-image'>",
		all[domain.BucketLocations][0].Response)

	require.Len(t, all[domain.BucketFAQs], 1)
	assert.Equal(t, "Yes, lot C.", all[domain.BucketFAQs][0].Text())

	emails, _ := st.ListEmails(ctx)
	require.Len(t, emails, 1)

	empty, _ = IsEmpty(ctx, st)
	assert.False(t, empty)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open(context.Background(), Config{Driver: "oracle"})
	assert.Error(t, err)
}
