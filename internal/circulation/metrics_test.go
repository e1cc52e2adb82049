package circulation_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"libris/internal/circulation"
	"libris/internal/fault"
	"libris/internal/journal"
	"libris/internal/storage/storagetest"
)

func collectOutcomes(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "libris.ledger.operations" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "unexpected aggregation %T", m.Data)
			for _, dp := range sum.DataPoints {
				op, _ := dp.Attributes.Value(attribute.Key("op"))
				outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				counts[op.AsString()+"/"+outcome.AsString()] += dp.Value
			}
		}
	}
	return counts
}

func TestLedger_RecordsOutcomes(t *testing.T) {
	f := newFixture(t, storagetest.NewSQLite(t))
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	ledger, err := circulation.NewService(f.db, f.members, f.catalog, journal.New(f.db), f.publisher, zerolog.Nop(),
		circulation.WithMeterProvider(provider))
	require.NoError(t, err)

	ctx := context.Background()
	f.user(t, "user1@example.com")
	book := f.book(t, 1)

	borrow, err := ledger.CreateBorrow(ctx, "user1@example.com", book.ID)
	require.NoError(t, err)

	_, err = ledger.CreateBorrow(ctx, "user1@example.com", book.ID)
	require.True(t, fault.Is(err, fault.OutOfStock))

	_, err = ledger.CreateBorrow(ctx, "user1@example.com", uuid.New())
	require.True(t, fault.Is(err, fault.NotFound))

	_, err = ledger.ReturnBorrow(ctx, borrow.ID)
	require.NoError(t, err)

	_, err = ledger.ReturnBorrow(ctx, borrow.ID)
	require.True(t, fault.Is(err, fault.Conflict))

	assert.Equal(t, map[string]int64{
		"create_borrow/ok":           1,
		"create_borrow/out_of_stock": 1,
		"create_borrow/not_found":    1,
		"return_borrow/ok":           1,
		"return_borrow/conflict":     1,
	}, collectOutcomes(t, reader))
}
