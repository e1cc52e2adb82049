// internal/consistency/consistency.go
package consistency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libris/internal/journal"
	"libris/internal/storage"
)

// Check is a measurable property of the store that must stay within its threshold.
type Check struct {
	Name        string
	Description string
	Query       func(context.Context) (float64, error)
	Threshold   Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Result is the outcome of one check.
type Result struct {
	Name     string    `json:"name"`
	Expected Threshold `json:"expected"`
	Actual   float64   `json:"actual"`
	Passed   bool      `json:"passed"`
	Error    string    `json:"error,omitempty"`
}

// Report is the outcome of a full verification run.
type Report struct {
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Healthy   bool          `json:"healthy"`
	Results   []Result      `json:"results"`
}

// Violations returns the results that did not pass.
func (r *Report) Violations() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// Checker verifies the stock invariants against the store of record.
type Checker struct {
	tracer  trace.Tracer
	db      *storage.DB
	journal *journal.Journal
	checks  []Check
	mu      sync.Mutex
}

// NewChecker returns a checker with the built-in stock checks registered.
func NewChecker(db *storage.DB, j *journal.Journal) *Checker {
	c := &Checker{
		tracer:  otel.Tracer("libris/consistency"),
		db:      db,
		journal: j,
	}
	c.Register(c.NegativeStockCheck())
	c.Register(c.OverfullShelfCheck())
	c.Register(c.ConservationCheck())
	c.Register(c.JournalAgreementCheck())
	return c
}

// Register adds a check to the run.
func (c *Checker) Register(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
}

// Checks returns the registered checks.
func (c *Checker) Checks() []Check {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Check(nil), c.checks...)
}

// Run evaluates every check once. A check whose query fails counts as a violation.
func (c *Checker) Run(ctx context.Context) *Report {
	ctx, span := c.tracer.Start(ctx, "consistency.run")
	defer span.End()

	report := &Report{StartTime: time.Now(), Healthy: true}
	for _, check := range c.Checks() {
		res := Result{Name: check.Name, Expected: check.Threshold}

		value, err := check.Query(ctx)
		switch {
		case err != nil:
			res.Actual = -1
			res.Error = err.Error()
			span.RecordError(err)
		default:
			res.Actual = value
			res.Passed = evaluate(value, check.Threshold)
		}

		if !res.Passed {
			report.Healthy = false
		}
		report.Results = append(report.Results, res)
	}
	report.Duration = time.Since(report.StartTime)

	span.SetAttributes(
		attribute.Bool("healthy", report.Healthy),
		attribute.Int("violations", len(report.Violations())),
	)
	return report
}

func evaluate(value float64, threshold Threshold) bool {
	switch threshold.Operator {
	case ">":
		return value > threshold.Value
	case "<":
		return value < threshold.Value
	case ">=":
		return value >= threshold.Value
	case "<=":
		return value <= threshold.Value
	case "==":
		return value == threshold.Value
	default:
		return false
	}
}

// NegativeStockCheck counts books whose stock dropped below zero.
func (c *Checker) NegativeStockCheck() Check {
	return Check{
		Name:        "negative-stock",
		Description: "no book has negative stock",
		Query: c.count("count negative stock", c.db.Builder().From("books").
			Select(goqu.COUNT(goqu.Star())).
			Where(goqu.C("stock").Lt(0))),
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

// OverfullShelfCheck counts books with more copies on the shelf than owned.
func (c *Checker) OverfullShelfCheck() Check {
	return Check{
		Name:        "overfull-shelf",
		Description: "no book has more stock than copies",
		Query: c.count("count overfull shelves", c.db.Builder().From("books").
			Select(goqu.COUNT(goqu.Star())).
			Where(goqu.C("stock").Gt(goqu.C("copies")))),
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

// ConservationCheck counts books where the copies missing from the shelf do
// not match the outstanding borrows.
func (c *Checker) ConservationCheck() Check {
	b := c.db.Builder()
	outstanding := b.From(goqu.T("borrows").As("br")).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.I("br.book_id").Eq(goqu.I("bk.id")),
			goqu.I("br.returned_at").IsNull(),
		)

	return Check{
		Name:        "conservation",
		Description: "copies - stock equals outstanding borrows for every book",
		Query: c.count("count unbalanced books", b.From(goqu.T("books").As("bk")).
			Select(goqu.COUNT(goqu.Star())).
			Where(goqu.L("bk.copies - bk.stock").Neq(outstanding))),
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

// JournalAgreementCheck replays the journal and counts books whose
// outstanding borrows disagree with it.
func (c *Checker) JournalAgreementCheck() Check {
	return Check{
		Name:        "journal-agreement",
		Description: "the journal replays to the same outstanding borrows as the ledger",
		Query: func(ctx context.Context) (float64, error) {
			replayed, err := c.replayOutstanding(ctx)
			if err != nil {
				return 0, err
			}

			var rows []struct {
				BookID uuid.UUID `db:"book_id"`
				Count  int       `db:"n"`
			}
			q := c.db.Builder().From("borrows").
				Select(goqu.C("book_id"), goqu.COUNT(goqu.Star()).As("n")).
				Where(goqu.C("returned_at").IsNull()).
				GroupBy(goqu.C("book_id")).Prepared(true)
			if err := c.db.Select(ctx, "count outstanding by book", &rows, q); err != nil {
				return 0, err
			}

			mismatches := 0
			seen := make(map[uuid.UUID]bool, len(rows))
			for _, r := range rows {
				seen[r.BookID] = true
				if replayed[r.BookID] != r.Count {
					mismatches++
				}
			}
			for book, n := range replayed {
				if !seen[book] && n != 0 {
					mismatches++
				}
			}
			return float64(mismatches), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

const replayBatch = 500

// replayOutstanding folds the whole journal into outstanding borrows per book.
func (c *Checker) replayOutstanding(ctx context.Context) (map[uuid.UUID]int, error) {
	outstanding := make(map[uuid.UUID]int)
	var from int64
	for {
		events, err := c.journal.Stream(ctx, from, replayBatch)
		if err != nil {
			return nil, fmt.Errorf("replay journal: %w", err)
		}
		for _, e := range events {
			var payload struct {
				BookID uuid.UUID `json:"book_id"`
			}
			if err := e.Decode(&payload); err != nil {
				return nil, fmt.Errorf("decode event %d: %w", e.ID, err)
			}
			switch e.Type {
			case journal.TypeBorrowCreated:
				outstanding[payload.BookID]++
			case journal.TypeBorrowReturned:
				outstanding[payload.BookID]--
			}
			from = e.ID
		}
		if len(events) < replayBatch {
			return outstanding, nil
		}
	}
}

func (c *Checker) count(op string, q *goqu.SelectDataset) func(context.Context) (float64, error) {
	q = q.Prepared(true)
	return func(ctx context.Context) (float64, error) {
		var n int
		if err := c.db.Get(ctx, op, &n, q); err != nil {
			return 0, err
		}
		return float64(n), nil
	}
}
