package app

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libris/internal/clients"
	"libris/internal/config"
	"libris/internal/fault"
	"libris/internal/storage"
)

func testConfig(secret string) *config.Config {
	return &config.Config{
		DB: config.DB{
			Driver:         storage.DriverSQLite,
			DSN:            ":memory:",
			Timeout:        5 * time.Second,
			ConnectTimeout: time.Second,
		},
		Auth: config.Auth{Secret: secret, TokenTTL: time.Hour},
		HTTP: config.HTTP{RequestTimeout: 10 * time.Second},
	}
}

func newServer(t *testing.T) (*App, *clients.Client) {
	t.Helper()
	a, err := New(t.Context(), testConfig("app-test-secret-0123456789"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	h, err := a.Handler()
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return a, clients.New(srv.URL)
}

func TestHandler_RequiresSecret(t *testing.T) {
	a, err := New(t.Context(), testConfig(""), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Handler()
	assert.ErrorIs(t, err, errNoSecret)
}

func TestNew_RejectsWeakSecret(t *testing.T) {
	_, err := New(t.Context(), testConfig("short"), zerolog.Nop())
	assert.Error(t, err)
}

func TestBorrowFlow(t *testing.T) {
	_, c := newServer(t)
	ctx := t.Context()

	_, err := c.Register(ctx, "reader", "SecurePass123!", "reader@example.com")
	require.NoError(t, err)

	_, err = c.CreateAuthor(ctx, "Jane", "Austen")
	require.True(t, fault.Is(err, fault.Unauthorized), "catalog writes need a token: %v", err)

	require.NoError(t, c.Login(ctx, "reader@example.com", "reader", "SecurePass123!"))
	authorID, err := c.CreateAuthor(ctx, "Jane", "Austen")
	require.NoError(t, err)
	bookID, err := c.CreateBook(ctx, "Pride and Prejudice", authorID, 5)
	require.NoError(t, err)

	borrow, err := c.CreateBorrow(ctx, "reader@example.com", bookID)
	require.NoError(t, err)
	assert.True(t, borrow.Outstanding())

	book, err := c.GetBook(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 4, book.Stock)

	returned, err := c.ReturnBorrow(ctx, borrow.ID)
	require.NoError(t, err)
	assert.False(t, returned.Outstanding())

	book, err = c.GetBook(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 5, book.Stock)

	_, err = c.ReturnBorrow(ctx, borrow.ID)
	assert.True(t, fault.Is(err, fault.Conflict), "second return: %v", err)
}

func TestConcurrentBorrowsPreventDoubleBooking(t *testing.T) {
	a, c := newServer(t)
	ctx := t.Context()

	summary, err := a.Seed(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 2, summary.Users)
	require.NoError(t, c.Login(ctx, "user1@example.com", "user1_nasri", "password"))

	books, err := c.ListBooks(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, books)
	authorID := books[0].AuthorID
	bookID, err := c.CreateBook(ctx, "The Great Gatsby", authorID, 1)
	require.NoError(t, err)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		succeeded  int
		outOfStock int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.CreateBorrow(ctx, "user1@example.com", bookID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case fault.Is(err, fault.OutOfStock):
				outOfStock++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "only one concurrent borrow may succeed")
	assert.Equal(t, 9, outOfStock)

	book, err := c.GetBook(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 0, book.Stock)
	assert.True(t, a.Checker.Run(ctx).Healthy)
}

func TestRaceExperimentOverHTTP(t *testing.T) {
	a, c := newServer(t)
	ctx := t.Context()

	_, err := a.Seed(ctx, "")
	require.NoError(t, err)
	require.NoError(t, c.Login(ctx, "admin@example.com", "admin_nasri", "admin123"))

	books, err := c.ListBooks(ctx)
	require.NoError(t, err)
	book := books[0]

	result, err := a.Checker.RaceExperiment(ctx, c, "admin@example.com", book.ID, book.Stock, book.Stock+3)
	require.NoError(t, err)
	assert.True(t, result.HypothesisHeld, "%+v", result)
	assert.Equal(t, book.Stock, result.Succeeded)
	assert.Equal(t, 3, result.OutOfStock)
}

func TestSeed_FromFile(t *testing.T) {
	a, err := New(t.Context(), testConfig(""), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Seed(t.Context(), "testdata/does-not-exist.yml")
	assert.Error(t, err)
}
