package journal_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libris/internal/fault"
	"libris/internal/journal"
	"libris/internal/storage/storagetest"
)

type created struct {
	BookID uuid.UUID `json:"book_id"`
}

func mustEvent(t *testing.T, eventType string, payload any) journal.Event {
	t.Helper()
	e, err := journal.NewEvent(eventType, payload)
	require.NoError(t, err)
	return e
}

func TestAppendLoad(t *testing.T) {
	j := journal.New(storagetest.NewSQLite(t))
	ctx := context.Background()
	borrowID, bookID := uuid.New(), uuid.New()

	require.NoError(t, j.Append(ctx, borrowID, 0, mustEvent(t, journal.TypeBorrowCreated, created{BookID: bookID})))
	require.NoError(t, j.Append(ctx, borrowID, 1, mustEvent(t, journal.TypeBorrowReturned, created{BookID: bookID})))

	events, err := j.Load(ctx, borrowID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, journal.TypeBorrowCreated, events[0].Type)
	assert.Equal(t, 1, events[0].Version)
	assert.Equal(t, journal.TypeBorrowReturned, events[1].Type)
	assert.Equal(t, 2, events[1].Version)

	var payload created
	require.NoError(t, events[0].Decode(&payload))
	assert.Equal(t, bookID, payload.BookID)

	version, err := j.CurrentVersion(ctx, borrowID)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	none, err := j.Load(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAppend_VersionMismatch(t *testing.T) {
	j := journal.New(storagetest.NewSQLite(t))
	ctx := context.Background()
	borrowID := uuid.New()

	require.NoError(t, j.Append(ctx, borrowID, 0, mustEvent(t, journal.TypeBorrowCreated, created{})))

	err := j.Append(ctx, borrowID, 0, mustEvent(t, journal.TypeBorrowCreated, created{}))
	assert.ErrorIs(t, err, journal.ErrConcurrencyConflict)
	assert.True(t, fault.Is(err, fault.Conflict))
}

func TestAppend_RollsBackWithCaller(t *testing.T) {
	db := storagetest.NewSQLite(t)
	j := journal.New(db)
	ctx := context.Background()
	borrowID := uuid.New()

	err := db.InTx(ctx, "aborted", func(ctx context.Context) error {
		if err := j.Append(ctx, borrowID, 0, mustEvent(t, journal.TypeBorrowCreated, created{})); err != nil {
			return err
		}
		return fault.New(fault.Internal, "abort")
	})
	require.Error(t, err)

	events, err := j.Load(ctx, borrowID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAppend_ConcurrentWritersOneWins(t *testing.T) {
	j := journal.New(storagetest.NewSQLite(t))
	borrowID := uuid.New()
	event := mustEvent(t, journal.TypeBorrowCreated, created{})

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = j.Append(context.Background(), borrowID, 0, event)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, journal.ErrConcurrencyConflict)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestStream(t *testing.T) {
	j := journal.New(storagetest.NewSQLite(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(ctx, uuid.New(), 0, mustEvent(t, journal.TypeBorrowCreated, created{})))
	}

	first, err := j.Stream(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)

	rest, err := j.Stream(ctx, first[2].ID, 3)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Greater(t, rest[0].ID, first[2].ID)
}
