// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"libris/internal/catalog"
	"libris/internal/journal"
	"libris/internal/membership"
)

// Service defines the interface for the borrow ledger.
type Service interface {
	CreateBorrow(ctx context.Context, email string, bookID uuid.UUID) (*Borrow, error)
	ReturnBorrow(ctx context.Context, borrowID uuid.UUID) (*Borrow, error)
	GetBorrow(ctx context.Context, id uuid.UUID) (*Borrow, error)
	ListBorrows(ctx context.Context) ([]*Borrow, error)
	History(ctx context.Context, borrowID uuid.UUID) ([]journal.Event, error)
}

// Users resolves the borrower.
type Users interface {
	FindByEmail(ctx context.Context, email string) (*membership.User, error)
}

// Books reads and moves stock. AdjustStock must join the transaction on ctx.
type Books interface {
	GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error)
	AdjustStock(ctx context.Context, bookID uuid.UUID, delta int) (*catalog.Book, error)
}
