// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"

	"libris/internal/fault"
)

// Borrow records one copy of a book lent to a user. A borrow with no
// ReturnedAt is outstanding; returning it keeps the record.
type Borrow struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	UserID     uuid.UUID  `json:"user_id" db:"user_id"`
	BookID     uuid.UUID  `json:"book_id" db:"book_id"`
	BorrowedAt time.Time  `json:"borrowed_at" db:"borrowed_at"`
	ReturnedAt *time.Time `json:"returned_at" db:"returned_at"`
}

// Outstanding reports whether the copy is still out.
func (b *Borrow) Outstanding() bool {
	return b.ReturnedAt == nil
}

// BorrowCreatedEvent is journaled when a copy leaves the shelf.
type BorrowCreatedEvent struct {
	BorrowID   uuid.UUID `json:"borrow_id"`
	UserID     uuid.UUID `json:"user_id"`
	BookID     uuid.UUID `json:"book_id"`
	StockAfter int       `json:"stock_after"`
	BorrowedAt time.Time `json:"borrowed_at"`
}

// BorrowReturnedEvent is journaled when the copy comes back.
type BorrowReturnedEvent struct {
	BorrowID   uuid.UUID `json:"borrow_id"`
	UserID     uuid.UUID `json:"user_id"`
	BookID     uuid.UUID `json:"book_id"`
	StockAfter int       `json:"stock_after"`
	ReturnedAt time.Time `json:"returned_at"`
}

var (
	ErrOutOfStock            = fault.New(fault.OutOfStock, "book out of stock")
	ErrBorrowNotFound        = fault.New(fault.NotFound, "borrow not found")
	ErrBorrowAlreadyReturned = fault.New(fault.Conflict, "borrow already returned")
)
