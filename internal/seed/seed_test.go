package seed

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libris/internal/catalog"
	"libris/internal/fault"
	"libris/internal/membership"
	"libris/internal/storage/storagetest"
)

func TestDefaultFixtures(t *testing.T) {
	f, err := Default()
	require.NoError(t, err)

	assert.Len(t, f.Authors, 3)
	require.Len(t, f.Books, 3)
	assert.Equal(t, "1984", f.Books[2].Title)
	assert.Equal(t, 7, f.Books[2].Stock)
	assert.Len(t, f.Users, 2)
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte(`
authors:
  - key: a
    first_name: Ann
    last_name: Lee
books:
  - title: Lost
    author: b
    stock: -1
users:
  - username: x
    email: nope
    password: pw
`))
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Validation))
	assert.Contains(t, err.Error(), `unknown author key "b"`)
	assert.Contains(t, err.Error(), "books[0].stock")
	assert.Contains(t, err.Error(), "users[0].email")

	_, err = Parse([]byte("authors: [\n"))
	assert.Error(t, err)
}

func TestApply_Idempotent(t *testing.T) {
	db := storagetest.NewSQLite(t)
	cat := catalog.NewService(db, zerolog.Nop())
	members := membership.NewService(db, nil, zerolog.Nop())
	s := NewSeeder(cat, members)
	ctx := context.Background()

	f, err := Default()
	require.NoError(t, err)

	sum, err := s.Apply(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, Summary{Authors: 3, Books: 3, Users: 2}, sum)

	sum, err = s.Apply(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, Summary{Skipped: 8}, sum)

	books, err := cat.ListBooks(ctx)
	require.NoError(t, err)
	assert.Len(t, books, 3)

	admin, err := members.FindByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, "admin_nasri", admin.Username)
}
