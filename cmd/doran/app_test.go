package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doran/internal/config"
	"doran/internal/domain"
	"doran/internal/engine"
	"doran/internal/store"
)

const testSeed = `
rules:
  - id: library
    questions: ["Where is the library?"]
    response: The library is in Building A.
    user_type: both
location_rules:
  - id: gym
    questions: ["Where is the gym?"]
    description: Behind building B
    urls: [gym.jpg]
emails:
  - school: SOICT
    email: soict@example.edu
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildApp_SeedsEmptySQLiteStore(t *testing.T) {
	c := config.Default()
	c.Store.Driver = store.DriverSQLite
	c.Store.DSN = filepath.Join(t.TempDir(), "doran.db")
	c.Store.Seed = writeFile(t, "seed.yaml", testSeed)
	ctx := context.Background()

	a, err := buildApp(ctx, c, zerolog.Nop())
	require.NoError(t, err)

	reply := a.engine.Respond(ctx, engine.Request{Message: "where is the gym", Role: domain.RoleGuest})
	assert.Equal(t, "Behind building B<br><img src='/static/gym.jpg' alt='Location Image' class='message-image'>", reply.Response)
	reply = a.engine.Respond(ctx, engine.Request{Message: "email of soict"})
	assert.Equal(t, engine.MatchEmail, reply.Match)
	require.NoError(t, a.Close())

	// a second start must not seed again
	b, err := buildApp(ctx, c, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()
	rules, err := b.store.ListRules(ctx, domain.BucketRules)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestNormalizeCommand(t *testing.T) {
	raw := writeFile(t, "raw.yaml", `
location_rules:
  - id: e5
    description: The E5 room is beside the stairs.
    urls: [e5.jpg]
`)
	logger = zerolog.Nop()
	cmd := newNormalizeCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{raw})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "Where is the E5 room?")

	seed, err := store.LoadSeed(writeFile(t, "normalized.yaml", out.String()))
	require.NoError(t, err)
	require.Len(t, seed.LocationRules, 1)
	assert.NotEmpty(t, seed.LocationRules[0].Questions)
}
