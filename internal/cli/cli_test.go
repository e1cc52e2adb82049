package cli

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libris/internal/app"
	"libris/internal/config"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("LIBRIS_DB_DSN", "file:"+filepath.Join(dir, "libris.db")+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	t.Setenv("LIBRIS_AUTH_SECRET", "")
	t.Setenv("LIBRIS_CONFIG", "")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, rt := newRootCmd(io.Discard)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--no-color"}, args...))

	err := root.Execute()
	require.NoError(t, rt.close())
	return out.String(), err
}

func TestMigrate(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema is up to date (sqlite)")
}

func TestSeed_Idempotent(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 3 authors, 3 books, 2 users (0 already present)")

	out, err = run(t, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 0 authors, 0 books, 0 users (8 already present)")

	out, err = run(t, "seed", "--reset")
	require.NoError(t, err)
	assert.Contains(t, out, "All rows deleted")
	assert.Contains(t, out, "Seeded 3 authors, 3 books, 2 users")
}

func TestVerify_Healthy(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "seed")
	require.NoError(t, err)

	out, err := run(t, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "Store is consistent")
}

func TestVerify_RaceExperiment(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "seed")
	require.NoError(t, err)

	cfg, err := config.Load("")
	require.NoError(t, err)
	a, err := app.New(t.Context(), cfg, zerolog.Nop())
	require.NoError(t, err)
	books, err := a.Catalog.ListBooks(t.Context())
	require.NoError(t, err)
	require.NoError(t, a.Close())
	book := books[0]

	out, err := run(t, "verify", "--book", book.ID.String(), "--concurrency", "12", "--email", "user1@example.com", "--json")
	require.NoError(t, err, out)

	var got verifyOutput
	require.NoError(t, jsoniter.Unmarshal([]byte(out), &got))
	require.NotNil(t, got.Race)
	assert.True(t, got.Race.HypothesisHeld)
	assert.Equal(t, book.Stock, got.Race.Succeeded)
	assert.True(t, got.Report.Healthy)
}

func TestVerify_BadFlags(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "verify", "--book", "not-a-uuid", "--email", "user1@example.com")
	assert.ErrorContains(t, err, "invalid --book")

	_, err = run(t, "verify", "--book", "6f1c1d3e-2c1a-4a57-9b0e-8f7a3c2d1e0f")
	assert.ErrorContains(t, err, "--email is required")
}

func TestServe_RequiresSecret(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "serve")
	assert.ErrorContains(t, err, "auth.secret is required")
}

func TestServe_HelpNamesConcurrentStore(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "serve", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Use PostgreSQL")
	assert.Contains(t, out, "single connection")
}
