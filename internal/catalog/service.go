// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the catalog.
//
// AdjustStock is the only way stock changes after a book is created. It runs
// inside the caller's transaction when the context carries one.
type Service interface {
	GetAuthor(ctx context.Context, id uuid.UUID) (*Author, error)
	ListAuthors(ctx context.Context) ([]*Author, error)
	CreateAuthor(ctx context.Context, firstName, lastName string) (*Author, error)
	DeleteAuthor(ctx context.Context, id uuid.UUID) error

	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	ListBooks(ctx context.Context) ([]*Book, error)
	CreateBook(ctx context.Context, title string, authorID uuid.UUID, stock int) (*Book, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error
	SearchByTitle(ctx context.Context, query string) ([]*Book, error)

	AdjustStock(ctx context.Context, bookID uuid.UUID, delta int) (*Book, error)
}
