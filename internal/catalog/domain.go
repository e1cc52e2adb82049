// internal/catalog/domain.go
package catalog

import (
	"time"

	"github.com/google/uuid"

	"libris/internal/fault"
)

// Author writes books. Authors are created and deleted, never edited.
type Author struct {
	ID        uuid.UUID `json:"id" db:"id"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Book is a title held by the library. Stock is the number of copies on the
// shelf; Copies is the number owned, so Copies-Stock copies are on loan.
type Book struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	AuthorID  uuid.UUID `json:"author_id" db:"author_id"`
	Stock     int       `json:"stock" db:"stock"`
	Copies    int       `json:"copies" db:"copies"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

var (
	ErrAuthorNotFound  = fault.New(fault.NotFound, "author not found")
	ErrBookNotFound    = fault.New(fault.NotFound, "book not found")
	ErrNoMatch         = fault.New(fault.NotFound, "no book found")
	ErrWouldBeNegative = fault.New(fault.OutOfStock, "book out of stock")
	ErrAuthorHasBooks  = fault.New(fault.Conflict, "author still has books in the catalog")
	ErrBookOnLoan      = fault.New(fault.Conflict, "book has outstanding borrows")
)
