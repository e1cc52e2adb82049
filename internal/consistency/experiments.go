// internal/consistency/experiments.go
package consistency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libris/internal/circulation"
	"libris/internal/fault"
)

// Ledger is the part of the borrow ledger the race experiment drives.
type Ledger interface {
	CreateBorrow(ctx context.Context, email string, bookID uuid.UUID) (*circulation.Borrow, error)
	ReturnBorrow(ctx context.Context, borrowID uuid.UUID) (*circulation.Borrow, error)
}

// RaceResult is the outcome of a concurrent borrow experiment.
type RaceResult struct {
	Concurrency    int           `json:"concurrency"`
	StockBefore    int           `json:"stock_before"`
	Succeeded      int           `json:"succeeded"`
	OutOfStock     int           `json:"out_of_stock"`
	Failed         int           `json:"failed"`
	Duration       time.Duration `json:"duration"`
	HypothesisHeld bool          `json:"hypothesis_held"`
	Report         *Report       `json:"report"`
}

// RaceExperiment fires concurrency simultaneous borrows at one book, returns
// every copy it got, and then runs all checks. The hypothesis holds when
// exactly min(stock, concurrency) borrows succeed, the rest are out of
// stock, and the store is consistent afterwards.
func (c *Checker) RaceExperiment(ctx context.Context, ledger Ledger, email string, bookID uuid.UUID, stockBefore, concurrency int) (*RaceResult, error) {
	ctx, span := c.tracer.Start(ctx, "consistency.race_experiment",
		trace.WithAttributes(
			attribute.String("book.id", bookID.String()),
			attribute.Int("concurrency", concurrency),
		),
	)
	defer span.End()

	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", concurrency)
	}

	result := &RaceResult{Concurrency: concurrency, StockBefore: stockBefore}
	start := time.Now()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		borrowed []uuid.UUID
		gate     = make(chan struct{})
	)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			b, err := ledger.CreateBorrow(ctx, email, bookID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Succeeded++
				borrowed = append(borrowed, b.ID)
			case fault.Is(err, fault.OutOfStock):
				result.OutOfStock++
			default:
				result.Failed++
				span.RecordError(err)
			}
		}()
	}
	close(gate)
	wg.Wait()

	var returnErr error
	for _, id := range borrowed {
		if _, err := ledger.ReturnBorrow(ctx, id); err != nil {
			returnErr = errors.Join(returnErr, err)
		}
	}
	result.Duration = time.Since(start)
	result.Report = c.Run(ctx)

	result.HypothesisHeld = result.Failed == 0 &&
		result.Succeeded == min(stockBefore, concurrency) &&
		result.OutOfStock == concurrency-result.Succeeded &&
		result.Report.Healthy

	span.SetAttributes(
		attribute.Int("succeeded", result.Succeeded),
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
	)
	if returnErr != nil {
		return result, fmt.Errorf("return borrowed copies: %w", returnErr)
	}
	return result, nil
}
