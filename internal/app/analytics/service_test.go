package analytics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/todo-1m/tms/internal/app/analytics"
	"github.com/todo-1m/tms/internal/errs"
	"github.com/todo-1m/tms/internal/testutil"
)

func seededService(t *testing.T) *analytics.Service {
	t.Helper()
	stats := testutil.NewStats()
	for _, s := range []analytics.DailyStats{
		{Date: "2026-05-01", Created: 3},
		{Date: "2026-05-03", Created: 1, Completed: 2},
		{Date: "2026-05-04", Completed: 1},
	} {
		stats.Put(s)
	}
	svc := analytics.NewService(stats, time.UTC)
	svc.Now = func() time.Time { return fixedNow }
	return svc
}

func TestService_Daily(t *testing.T) {
	svc := seededService(t)
	ctx := context.Background()

	got, err := svc.Daily(ctx, "2026-05-03")
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Completed)

	today, err := svc.Daily(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "2026-05-04", today.Date)

	_, err = svc.Daily(ctx, "2026-05-02")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = svc.Daily(ctx, "05/03/2026")
	require.ErrorIs(t, err, analytics.ErrInvalidDate)
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestService_Range(t *testing.T) {
	svc := seededService(t)
	ctx := context.Background()

	rows, err := svc.Range(ctx, "2026-05-01", "2026-05-03")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "2026-05-01", rows[0].Date)
	require.Equal(t, "2026-05-03", rows[1].Date)

	_, err = svc.Range(ctx, "2026-05-04", "2026-05-01")
	require.ErrorIs(t, err, analytics.ErrInvalidRange)
}

func TestService_Recent(t *testing.T) {
	svc := seededService(t)
	ctx := context.Background()

	rows, err := svc.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = svc.Recent(ctx, 30)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	_, err = svc.Recent(ctx, 0)
	require.ErrorIs(t, err, analytics.ErrInvalidDays)
	_, err = svc.Recent(ctx, 366)
	require.ErrorIs(t, err, analytics.ErrInvalidDays)
}
