package circulation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func outcomeCounts(t *testing.T, m metricdata.Metrics) map[string]int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)

	counts := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value("outcome")
		counts[v.AsString()] += dp.Value
	}
	return counts
}

func TestService_RecordsOutcomeMetrics(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	svc := NewService(f.ledger, f.members, f.registry, WithClock(f.clock.Now), WithMeterProvider(mp))

	loan, err := svc.Borrow(ctx, f.item, f.member)
	require.NoError(t, err)
	_, err = svc.Borrow(ctx, f.item, f.member)
	require.ErrorIs(t, err, ErrAlreadyBorrowed)

	f.clock.Advance(LoanPeriod + 3*24*time.Hour + time.Hour)
	returned, err := svc.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOverdue, returned.Status)
	_, err = svc.ReturnLoan(ctx, loan.ID)
	require.ErrorIs(t, err, ErrAlreadyReturned)

	metrics := collect(t, reader)

	assert.Equal(t, map[string]int64{"ok": 1, "already_borrowed": 1},
		outcomeCounts(t, metrics["circulation.borrow.outcomes"]))
	assert.Equal(t, map[string]int64{"ok": 1, "already_returned": 1},
		outcomeCounts(t, metrics["circulation.return.outcomes"]))

	hist, ok := metrics["circulation.return.overdue_days"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.Equal(t, int64(3), hist.DataPoints[0].Sum)
}

func TestService_OnTimeReturnRecordsNoOverdueDays(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	svc := NewService(f.ledger, f.members, f.registry, WithClock(f.clock.Now), WithMeterProvider(mp))
	loan, err := svc.Borrow(ctx, f.item, f.member)
	require.NoError(t, err)
	_, err = svc.ReturnLoan(ctx, loan.ID)
	require.NoError(t, err)

	_, recorded := collect(t, reader)["circulation.return.overdue_days"]
	assert.False(t, recorded)
}
