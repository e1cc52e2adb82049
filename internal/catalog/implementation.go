// internal/catalog/implementation.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"libris/internal/fault"
	"libris/internal/storage"
)

var (
	authorColumns = []interface{}{"id", "first_name", "last_name", "created_at"}
	bookColumns   = []interface{}{"id", "title", "author_id", "stock", "copies", "created_at"}
)

// service implements the Service interface.
type service struct {
	db     *storage.DB
	logger zerolog.Logger
}

// NewService creates a new catalog service instance.
func NewService(db *storage.DB, logger zerolog.Logger) Service {
	return &service{
		db:     db,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

// GetAuthor retrieves an author by ID.
func (s *service) GetAuthor(ctx context.Context, id uuid.UUID) (*Author, error) {
	author := &Author{}
	q := s.db.Builder().From("authors").Select(authorColumns...).
		Where(goqu.C("id").Eq(id)).Prepared(true)

	if err := s.db.Get(ctx, "get author", author, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("author %s: %w", id, ErrAuthorNotFound)
		}
		return nil, err
	}
	return author, nil
}

func (s *service) ListAuthors(ctx context.Context) ([]*Author, error) {
	authors := []*Author{}
	q := s.db.Builder().From("authors").Select(authorColumns...).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).Prepared(true)

	if err := s.db.Select(ctx, "list authors", &authors, q); err != nil {
		return nil, err
	}
	return authors, nil
}

// CreateAuthor adds an author to the catalog.
func (s *service) CreateAuthor(ctx context.Context, firstName, lastName string) (*Author, error) {
	author := &Author{
		ID:        uuid.New(),
		FirstName: firstName,
		LastName:  lastName,
		CreatedAt: time.Now().UTC(),
	}

	q := s.db.Builder().Insert("authors").Rows(goqu.Record{
		"id":         author.ID,
		"first_name": author.FirstName,
		"last_name":  author.LastName,
		"created_at": author.CreatedAt,
	}).Prepared(true)

	if _, err := s.db.Exec(ctx, "insert author", q); err != nil {
		return nil, fmt.Errorf("failed to create author: %w", err)
	}

	s.logger.Info().Str("author_id", author.ID.String()).Msg("author created")
	return author, nil
}

// DeleteAuthor removes an author that no book refers to.
func (s *service) DeleteAuthor(ctx context.Context, id uuid.UUID) error {
	err := s.db.InTx(ctx, "delete author", func(ctx context.Context) error {
		if _, err := s.GetAuthor(ctx, id); err != nil {
			return err
		}

		var books int
		count := s.db.Builder().From("books").Select(goqu.COUNT(goqu.Star())).
			Where(goqu.C("author_id").Eq(id)).Prepared(true)
		if err := s.db.Get(ctx, "count author books", &books, count); err != nil {
			return err
		}
		if books > 0 {
			return ErrAuthorHasBooks
		}

		del := s.db.Builder().Delete("authors").Where(goqu.C("id").Eq(id)).Prepared(true)
		_, err := s.db.Exec(ctx, "delete author", del)
		return err
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("author_id", id.String()).Msg("author not deleted")
		return err
	}

	s.logger.Info().Str("author_id", id.String()).Msg("author deleted")
	return nil
}

// GetBook retrieves a book by ID. It always reads the store, so a book read
// inside a transaction sees that transaction's stock.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	book := &Book{}
	q := s.db.Builder().From("books").Select(bookColumns...).
		Where(goqu.C("id").Eq(id)).Prepared(true)

	if err := s.db.Get(ctx, "get book", book, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("book %s: %w", id, ErrBookNotFound)
		}
		return nil, err
	}
	return book, nil
}

func (s *service) ListBooks(ctx context.Context) ([]*Book, error) {
	books := []*Book{}
	q := s.db.Builder().From("books").Select(bookColumns...).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).Prepared(true)

	if err := s.db.Select(ctx, "list books", &books, q); err != nil {
		return nil, err
	}
	return books, nil
}

// CreateBook adds a title with stock copies on the shelf.
func (s *service) CreateBook(ctx context.Context, title string, authorID uuid.UUID, stock int) (*Book, error) {
	if stock < 0 {
		return nil, fault.New(fault.Validation, "stock must not be negative")
	}

	book := &Book{
		ID:        uuid.New(),
		Title:     title,
		AuthorID:  authorID,
		Stock:     stock,
		Copies:    stock,
		CreatedAt: time.Now().UTC(),
	}

	err := s.db.InTx(ctx, "create book", func(ctx context.Context) error {
		if _, err := s.GetAuthor(ctx, authorID); err != nil {
			return err
		}

		q := s.db.Builder().Insert("books").Rows(goqu.Record{
			"id":         book.ID,
			"title":      book.Title,
			"author_id":  book.AuthorID,
			"stock":      book.Stock,
			"copies":     book.Copies,
			"created_at": book.CreatedAt,
		}).Prepared(true)
		_, err := s.db.Exec(ctx, "insert book", q)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create book: %w", err)
	}

	s.logger.Info().Str("book_id", book.ID.String()).Int("stock", stock).Msg("book created")
	return book, nil
}

// DeleteBook removes a book with no outstanding borrows. Its returned borrows
// go with it.
func (s *service) DeleteBook(ctx context.Context, id uuid.UUID) error {
	err := s.db.InTx(ctx, "delete book", func(ctx context.Context) error {
		if _, err := s.GetBook(ctx, id); err != nil {
			return err
		}

		var outstanding int
		count := s.db.Builder().From("borrows").Select(goqu.COUNT(goqu.Star())).
			Where(goqu.C("book_id").Eq(id), goqu.C("returned_at").IsNull()).Prepared(true)
		if err := s.db.Get(ctx, "count outstanding borrows", &outstanding, count); err != nil {
			return err
		}
		if outstanding > 0 {
			return ErrBookOnLoan
		}

		// SQLite does not enforce the cascade unless foreign keys are switched on.
		borrows := s.db.Builder().Delete("borrows").Where(goqu.C("book_id").Eq(id)).Prepared(true)
		if _, err := s.db.Exec(ctx, "delete returned borrows", borrows); err != nil {
			return err
		}

		del := s.db.Builder().Delete("books").Where(goqu.C("id").Eq(id)).Prepared(true)
		_, err := s.db.Exec(ctx, "delete book", del)
		return err
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("book_id", id.String()).Msg("book not deleted")
		return err
	}

	s.logger.Info().Str("book_id", id.String()).Msg("book deleted")
	return nil
}

// SearchByTitle finds books whose title contains query, ignoring case.
func (s *service) SearchByTitle(ctx context.Context, query string) ([]*Book, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"

	books := []*Book{}
	q := s.db.Builder().From("books").Select(bookColumns...).
		Where(goqu.L(s.db.Fold("title")+` LIKE ? ESCAPE '\'`, pattern)).
		Order(goqu.C("title").Asc(), goqu.C("id").Asc()).Prepared(true)

	if err := s.db.Select(ctx, "search books", &books, q); err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return nil, fmt.Errorf("title %q: %w", query, ErrNoMatch)
	}
	return books, nil
}

// AdjustStock applies delta to a book's stock in a single conditional update,
// so two concurrent decrements can never both take the last copy. A rejected
// change leaves the row untouched.
func (s *service) AdjustStock(ctx context.Context, bookID uuid.UUID, delta int) (*Book, error) {
	q := s.db.Builder().Update("books").
		Set(goqu.Record{"stock": goqu.L("stock + ?", delta)}).
		Where(goqu.C("id").Eq(bookID), goqu.C("stock").Gte(-delta)).
		Prepared(true)

	n, err := s.db.Exec(ctx, "adjust stock", q)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := s.GetBook(ctx, bookID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("book %s: %w", bookID, ErrWouldBeNegative)
	}

	return s.GetBook(ctx, bookID)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
