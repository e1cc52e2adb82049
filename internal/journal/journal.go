// Package journal keeps the append-only history of every borrow. Events are
// appended inside the ledger transaction, so a borrow and its history commit
// or roll back together.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libris/internal/fault"
	"libris/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	TypeBorrowCreated  = "BorrowCreated"
	TypeBorrowReturned = "BorrowReturned"
)

var ErrConcurrencyConflict = fault.New(fault.Conflict, "concurrency conflict: version mismatch")

// Event is one entry in a borrow's history.
type Event struct {
	ID        int64               `json:"id"`
	BorrowID  uuid.UUID           `json:"borrow_id"`
	Type      string              `json:"event_type"`
	Data      jsoniter.RawMessage `json:"event_data"`
	Version   int                 `json:"version"`
	CreatedAt time.Time           `json:"created_at"`
}

// eventRow scans event_data as text; JSONB and TEXT columns both arrive that way.
type eventRow struct {
	ID        int64     `db:"id"`
	BorrowID  uuid.UUID `db:"borrow_id"`
	Type      string    `db:"event_type"`
	Data      string    `db:"event_data"`
	Version   int       `db:"version"`
	CreatedAt time.Time `db:"created_at"`
}

func (r eventRow) event() Event {
	return Event{
		ID:        r.ID,
		BorrowID:  r.BorrowID,
		Type:      r.Type,
		Data:      jsoniter.RawMessage(r.Data),
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
	}
}

var eventColumns = []interface{}{"id", "borrow_id", "event_type", "event_data", "version", "created_at"}

// NewEvent encodes payload as the data of an event of the given type.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return Event{Type: eventType, Data: data}, nil
}

// Decode unmarshals the event data into dst.
func (e Event) Decode(dst any) error {
	return json.Unmarshal(e.Data, dst)
}

// Journal appends and reads borrow events.
type Journal struct {
	db     *storage.DB
	tracer trace.Tracer
}

func New(db *storage.DB) *Journal {
	return &Journal{
		db:     db,
		tracer: otel.Tracer("libris/journal"),
	}
}

// Append adds events to a borrow's history, numbering them after
// expectedVersion. It joins the transaction on ctx, or opens its own.
func (j *Journal) Append(ctx context.Context, borrowID uuid.UUID, expectedVersion int, events ...Event) error {
	ctx, span := j.tracer.Start(ctx, "journal.append",
		trace.WithAttributes(
			attribute.String("borrow.id", borrowID.String()),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	return j.db.InTx(ctx, "journal append", func(ctx context.Context) error {
		current, err := j.CurrentVersion(ctx, borrowID)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			span.SetAttributes(
				attribute.Int("actual.version", current),
				attribute.Bool("conflict.detected", true),
			)
			return ErrConcurrencyConflict
		}

		now := time.Now().UTC()
		for i, event := range events {
			version := expectedVersion + i + 1
			q := j.db.Builder().Insert("borrow_events").Rows(goqu.Record{
				"borrow_id":  borrowID,
				"event_type": event.Type,
				"event_data": string(event.Data),
				"version":    version,
				"created_at": now,
			}).Prepared(true)

			if _, err := j.db.Exec(ctx, "insert event", q); err != nil {
				if storage.IsUniqueViolation(err) {
					return ErrConcurrencyConflict
				}
				return fmt.Errorf("insert event %d: %w", i, err)
			}

			span.AddEvent("event.appended", trace.WithAttributes(
				attribute.Int("event.version", version),
				attribute.String("event.type", event.Type),
			))
		}
		return nil
	})
}

// Load returns a borrow's events in version order.
func (j *Journal) Load(ctx context.Context, borrowID uuid.UUID) ([]Event, error) {
	ctx, span := j.tracer.Start(ctx, "journal.load",
		trace.WithAttributes(attribute.String("borrow.id", borrowID.String())),
	)
	defer span.End()

	q := j.db.Builder().From("borrow_events").Select(eventColumns...).
		Where(goqu.C("borrow_id").Eq(borrowID)).
		Order(goqu.C("version").Asc()).Prepared(true)

	events, err := j.selectEvents(ctx, "load events", q)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// CurrentVersion returns the latest version of a borrow's history, 0 when it has none.
func (j *Journal) CurrentVersion(ctx context.Context, borrowID uuid.UUID) (int, error) {
	var version int
	q := j.db.Builder().From("borrow_events").
		Select(goqu.COALESCE(goqu.MAX("version"), goqu.L("0"))).
		Where(goqu.C("borrow_id").Eq(borrowID)).Prepared(true)

	if err := j.db.Get(ctx, "current version", &version, q); err != nil {
		return 0, fmt.Errorf("query version: %w", err)
	}
	return version, nil
}

// Stream returns up to batchSize events with an id above fromID, across all
// borrows, in append order.
func (j *Journal) Stream(ctx context.Context, fromID int64, batchSize int) ([]Event, error) {
	ctx, span := j.tracer.Start(ctx, "journal.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	q := j.db.Builder().From("borrow_events").Select(eventColumns...).
		Where(goqu.C("id").Gt(fromID)).
		Order(goqu.C("id").Asc()).
		Limit(uint(batchSize)).Prepared(true)

	events, err := j.selectEvents(ctx, "stream events", q)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}

func (j *Journal) selectEvents(ctx context.Context, op string, q storage.Statement) ([]Event, error) {
	var rows []eventRow
	if err := j.db.Select(ctx, op, &rows, q); err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.event())
	}
	return events, nil
}
