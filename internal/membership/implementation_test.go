package membership_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"libris/internal/auth"
	"libris/internal/fault"
	"libris/internal/membership"
	"libris/internal/storage/storagetest"
)

func newService(t *testing.T, opts ...membership.Option) (membership.Service, *auth.Gate) {
	t.Helper()
	gate, err := auth.NewGate("membership-test-secret-0123456789", time.Hour)
	require.NoError(t, err)
	db := storagetest.NewSQLite(t)
	opts = append([]membership.Option{membership.WithRateLimit(rate.Inf, 0)}, opts...)
	return membership.NewService(db, gate, zerolog.Nop(), opts...), gate
}

func TestRegisterAndFind(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "user1_nasri", "password", "user1@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "password", user.PasswordHash)
	assert.NotEmpty(t, user.PasswordSalt)

	byEmail, err := svc.FindByEmail(ctx, "user1@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	byID, err := svc.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "user1_nasri", byID.Username)

	_, err = svc.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, membership.ErrUserNotFound)
	_, err = svc.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, membership.ErrUserNotFound)
}

func TestFindByEmail_EarliestWins(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Register(ctx, "alice", "pw", "shared@example.com")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = svc.Register(ctx, "bob", "pw", "shared@example.com")
	require.NoError(t, err)

	got, err := svc.FindByEmail(ctx, "shared@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestCreate_UsernameTaken(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "admin_nasri", "admin123", "admin@example.com")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "admin_nasri", "other", "other@example.com")
	assert.ErrorIs(t, err, membership.ErrUsernameTaken)
	assert.True(t, fault.Is(err, fault.Conflict))

	// Exact match only.
	_, err = svc.Register(ctx, "Admin_Nasri", "other", "other@example.com")
	assert.NoError(t, err)
}

func TestCreate_ConcurrentSameUsername(t *testing.T) {
	svc, _ := newService(t)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Register(context.Background(), "racer", "pw", "racer@example.com")
		}(i)
	}
	wg.Wait()

	var created int
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, membership.ErrUsernameTaken)
	}
	assert.Equal(t, 1, created)
}

func TestAuthenticate(t *testing.T) {
	svc, gate := newService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "user1_nasri", "password", "user1@example.com")
	require.NoError(t, err)

	token, err := svc.Authenticate(ctx, "user1@example.com", "user1_nasri", "password")
	require.NoError(t, err)
	id, err := gate.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), id.Subject)

	cases := []struct{ email, username, password string }{
		{"user1@example.com", "user1_nasri", "wrong"},
		{"other@example.com", "user1_nasri", "password"},
		{"user1@example.com", "ghost", "password"},
	}
	for _, c := range cases {
		_, err := svc.Authenticate(ctx, c.email, c.username, c.password)
		assert.ErrorIs(t, err, membership.ErrInvalidLogin)
	}
}

func TestRateLimit(t *testing.T) {
	svc, _ := newService(t, membership.WithRateLimit(rate.Every(time.Hour), 1))
	ctx := context.Background()

	_, err := svc.Register(ctx, "first", "pw", "first@example.com")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "second", "pw", "second@example.com")
	assert.ErrorIs(t, err, membership.ErrRateLimited)

	_, err = svc.Authenticate(ctx, "first@example.com", "first", "pw")
	assert.True(t, fault.Is(err, fault.RateLimited))
}
