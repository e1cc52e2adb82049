// internal/circulation/implementation.go
package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"libris/internal/catalog"
	"libris/internal/fault"
	"libris/internal/journal"
	"libris/internal/notify"
	"libris/internal/storage"
)

var borrowColumns = []interface{}{"id", "user_id", "book_id", "borrowed_at", "returned_at"}

// service implements the Service interface.
type service struct {
	db        *storage.DB
	users     Users
	books     Books
	journal   *journal.Journal
	publisher notify.Publisher
	logger    zerolog.Logger
	tracer    trace.Tracer
	meters    metric.MeterProvider
	outcomes  metric.Int64Counter
}

// Option configures the borrow ledger.
type Option func(*service)

// WithMeterProvider records ledger outcomes to mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *service) { s.meters = mp }
}

// NewService creates a new borrow ledger. A nil publisher disables notifications.
func NewService(db *storage.DB, users Users, books Books, j *journal.Journal, publisher notify.Publisher, logger zerolog.Logger, opts ...Option) (Service, error) {
	if publisher == nil {
		publisher = notify.Noop{}
	}

	s := &service{
		db:        db,
		users:     users,
		books:     books,
		journal:   j,
		publisher: publisher,
		logger:    logger.With().Str("component", "circulation").Logger(),
		tracer:    otel.Tracer("libris/circulation"),
		meters:    otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	s.outcomes, err = s.meters.Meter("libris/circulation").Int64Counter("libris.ledger.operations",
		metric.WithDescription("Borrow ledger operations by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create outcome counter: %w", err)
	}
	return s, nil
}

// CreateBorrow lends one copy of a book to the user registered under email.
// The stock decrement, the borrow row and its journal entry commit together.
func (s *service) CreateBorrow(ctx context.Context, email string, bookID uuid.UUID) (*Borrow, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.create_borrow",
		trace.WithAttributes(attribute.String("book.id", bookID.String())),
	)
	defer span.End()

	borrow, stockAfter, err := s.createBorrow(ctx, email, bookID)
	s.record(ctx, span, "create_borrow", err).
		Str("email", email).
		Str("book_id", bookID.String()).
		Func(func(e *zerolog.Event) {
			if err == nil {
				e.Str("borrow_id", borrow.ID.String()).Int("stock_after", stockAfter)
			}
		}).
		Msg("borrow create")
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(notify.Notification{
		Key:        notify.KeyBorrowCreated,
		BorrowID:   borrow.ID,
		UserID:     borrow.UserID,
		BookID:     borrow.BookID,
		StockAfter: stockAfter,
		At:         borrow.BorrowedAt,
	})
	return borrow, nil
}

func (s *service) createBorrow(ctx context.Context, email string, bookID uuid.UUID) (*Borrow, int, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve user: %w", err)
	}

	book, err := s.books.GetBook(ctx, bookID)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve book: %w", err)
	}
	if book.Stock <= 0 {
		return nil, 0, fmt.Errorf("book %s: %w", bookID, ErrOutOfStock)
	}

	borrow := &Borrow{
		ID:         uuid.New(),
		UserID:     user.ID,
		BookID:     book.ID,
		BorrowedAt: time.Now().UTC(),
	}

	var stockAfter int
	err = s.db.InTx(ctx, "create borrow", func(ctx context.Context) error {
		// Another borrow may have taken the last copy since the check above.
		updated, err := s.books.AdjustStock(ctx, book.ID, -1)
		if errors.Is(err, catalog.ErrWouldBeNegative) {
			return fmt.Errorf("book %s: %w", bookID, ErrOutOfStock)
		}
		if err != nil {
			return err
		}
		stockAfter = updated.Stock

		q := s.db.Builder().Insert("borrows").Rows(goqu.Record{
			"id":          borrow.ID,
			"user_id":     borrow.UserID,
			"book_id":     borrow.BookID,
			"borrowed_at": borrow.BorrowedAt,
		}).Prepared(true)
		if _, err := s.db.Exec(ctx, "insert borrow", q); err != nil {
			return err
		}

		event, err := journal.NewEvent(journal.TypeBorrowCreated, BorrowCreatedEvent{
			BorrowID:   borrow.ID,
			UserID:     borrow.UserID,
			BookID:     borrow.BookID,
			StockAfter: stockAfter,
			BorrowedAt: borrow.BorrowedAt,
		})
		if err != nil {
			return err
		}
		return s.journal.Append(ctx, borrow.ID, 0, event)
	})
	if err != nil {
		return nil, 0, err
	}
	return borrow, stockAfter, nil
}

// ReturnBorrow puts the copy back on the shelf. Anyone holding a valid
// credential may return any borrow.
func (s *service) ReturnBorrow(ctx context.Context, borrowID uuid.UUID) (*Borrow, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return_borrow",
		trace.WithAttributes(attribute.String("borrow.id", borrowID.String())),
	)
	defer span.End()

	borrow, stockAfter, err := s.returnBorrow(ctx, borrowID)
	s.record(ctx, span, "return_borrow", err).
		Str("borrow_id", borrowID.String()).
		Func(func(e *zerolog.Event) {
			if err == nil {
				e.Str("book_id", borrow.BookID.String()).Int("stock_after", stockAfter)
			}
		}).
		Msg("borrow return")
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(notify.Notification{
		Key:        notify.KeyBorrowReturned,
		BorrowID:   borrow.ID,
		UserID:     borrow.UserID,
		BookID:     borrow.BookID,
		StockAfter: stockAfter,
		At:         *borrow.ReturnedAt,
	})
	return borrow, nil
}

func (s *service) returnBorrow(ctx context.Context, borrowID uuid.UUID) (*Borrow, int, error) {
	borrow, err := s.GetBorrow(ctx, borrowID)
	if err != nil {
		return nil, 0, err
	}
	if !borrow.Outstanding() {
		return nil, 0, fmt.Errorf("borrow %s: %w", borrowID, ErrBorrowAlreadyReturned)
	}

	returnedAt := time.Now().UTC()
	var stockAfter int
	err = s.db.InTx(ctx, "return borrow", func(ctx context.Context) error {
		q := s.db.Builder().Update("borrows").
			Set(goqu.Record{"returned_at": returnedAt}).
			Where(goqu.C("id").Eq(borrowID), goqu.C("returned_at").IsNull()).
			Prepared(true)
		n, err := s.db.Exec(ctx, "mark borrow returned", q)
		if err != nil {
			return err
		}
		if n == 0 {
			// A concurrent return got there first.
			return fmt.Errorf("borrow %s: %w", borrowID, ErrBorrowAlreadyReturned)
		}

		updated, err := s.books.AdjustStock(ctx, borrow.BookID, +1)
		if err != nil {
			return err
		}
		stockAfter = updated.Stock

		event, err := journal.NewEvent(journal.TypeBorrowReturned, BorrowReturnedEvent{
			BorrowID:   borrow.ID,
			UserID:     borrow.UserID,
			BookID:     borrow.BookID,
			StockAfter: stockAfter,
			ReturnedAt: returnedAt,
		})
		if err != nil {
			return err
		}
		return s.journal.Append(ctx, borrow.ID, 1, event)
	})
	if err != nil {
		return nil, 0, err
	}

	borrow.ReturnedAt = &returnedAt
	return borrow, stockAfter, nil
}

// GetBorrow retrieves a borrow by ID.
func (s *service) GetBorrow(ctx context.Context, id uuid.UUID) (*Borrow, error) {
	borrow := &Borrow{}
	q := s.db.Builder().From("borrows").Select(borrowColumns...).
		Where(goqu.C("id").Eq(id)).Prepared(true)

	if err := s.db.Get(ctx, "get borrow", borrow, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("borrow %s: %w", id, ErrBorrowNotFound)
		}
		return nil, err
	}
	return borrow, nil
}

func (s *service) ListBorrows(ctx context.Context) ([]*Borrow, error) {
	borrows := []*Borrow{}
	q := s.db.Builder().From("borrows").Select(borrowColumns...).
		Order(goqu.C("borrowed_at").Asc(), goqu.C("id").Asc()).Prepared(true)

	if err := s.db.Select(ctx, "list borrows", &borrows, q); err != nil {
		return nil, err
	}
	return borrows, nil
}

// History returns the journal of one borrow, oldest first.
func (s *service) History(ctx context.Context, borrowID uuid.UUID) ([]journal.Event, error) {
	if _, err := s.GetBorrow(ctx, borrowID); err != nil {
		return nil, err
	}
	return s.journal.Load(ctx, borrowID)
}

// record counts the outcome and starts its log event: info on success, warn
// for a rejected request, error for anything unexpected.
func (s *service) record(ctx context.Context, span trace.Span, op string, err error) *zerolog.Event {
	outcome := "ok"
	var event *zerolog.Event

	switch kind := fault.KindOf(err); {
	case err == nil:
		event = s.logger.Info()
	case kind == fault.NotFound, kind == fault.OutOfStock, kind == fault.Conflict, kind == fault.Validation:
		outcome = kind.String()
		event = s.logger.Warn().Err(err)
		span.SetAttributes(attribute.String("ledger.rejected", outcome))
	default:
		outcome = "error"
		event = s.logger.Error().Err(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	s.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
	return event.Str("op", op).Str("outcome", outcome)
}
