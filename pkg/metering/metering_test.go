package metering_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendlens/core/pkg/config"
	"github.com/spendlens/core/pkg/metering"
	"github.com/spendlens/core/pkg/problem"
)

func newService() (*metering.Service, *metering.MemoryStore) {
	store := metering.NewMemoryStore()
	return metering.NewService(store, config.DefaultTuning()), store
}

// may is a fixed reporting period so tests never race the wall clock.
var may = metering.Period{
	Start: time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
}

func inMay(day int) time.Time {
	return time.Date(2024, time.May, day, 12, 0, 0, 0, time.UTC)
}

func TestLogAssignsCostByTier(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	require.NoError(t, svc.Log(ctx, metering.Record{
		UserID: "u1", Operation: metering.OpNormalization, Tier: 1, CacheHit: true, LatencyMS: 2,
	}))
	require.NoError(t, svc.Log(ctx, metering.Record{
		UserID: "u1", Operation: metering.OpCategorizationGL, Tier: 2, LatencyMS: 40,
	}))
	require.NoError(t, svc.Log(ctx, metering.Record{
		UserID: "u1", Operation: metering.OpCategorizationGL, Tier: 3, LatencyMS: 900, Model: "small-1",
	}))

	rows := store.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, float64(0), rows[0].CostUSD)
	assert.Equal(t, 0.00002, rows[1].CostUSD)
	assert.Equal(t, 0.0004, rows[2].CostUSD)
	for _, r := range rows {
		assert.NotZero(t, r.ID)
		assert.False(t, r.CreatedAt.IsZero())
	}
}

func TestLogRejectsBadRecords(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	cases := []struct {
		name string
		rec  metering.Record
		want error
	}{
		{"no user", metering.Record{Operation: metering.OpNormalization, Tier: 1}, metering.ErrEmptyUserID},
		{"no operation", metering.Record{UserID: "u1", Tier: 1}, metering.ErrEmptyOperation},
		{"tier too high", metering.Record{UserID: "u1", Operation: metering.OpNormalization, Tier: 4}, metering.ErrTierRange},
		{"negative tier", metering.Record{UserID: "u1", Operation: metering.OpNormalization, Tier: -1}, metering.ErrTierRange},
		{"negative latency", metering.Record{UserID: "u1", Operation: metering.OpNormalization, Tier: 1, LatencyMS: -5}, metering.ErrNegativeLatency},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Log(ctx, tc.rec)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, problem.KindValidation, problem.KindOf(err))
		})
	}
	assert.Empty(t, store.Rows())
}

func TestUsageReport(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, svc.Log(ctx, metering.Record{
			UserID: "u1", Operation: metering.OpNormalization, Tier: 1,
			CacheHit: true, CreatedAt: inMay(2 + i),
		}))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Log(ctx, metering.Record{
			UserID: "u1", Operation: metering.OpCategorizationGL, Tier: 2,
			CreatedAt: inMay(10 + i),
		}))
	}
	require.NoError(t, svc.Log(ctx, metering.Record{
		UserID: "u1", Operation: metering.OpCategorizationGL, Tier: 3, CreatedAt: inMay(20),
	}))
	// Out of period and out of user; neither may appear.
	require.NoError(t, svc.Log(ctx, metering.Record{
		UserID: "u1", Operation: metering.OpNormalization, Tier: 3,
		CreatedAt: time.Date(2024, time.April, 30, 12, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, svc.Log(ctx, metering.Record{
		UserID: "u2", Operation: metering.OpNormalization, Tier: 3, CreatedAt: inMay(5),
	}))

	rep, err := svc.Usage(ctx, "u1", may, "")
	require.NoError(t, err)

	assert.Equal(t, int64(10), rep.Total)
	assert.Equal(t, map[int]int64{1: 6, 2: 3, 3: 1}, rep.TierCounts)
	assert.InDelta(t, 0.6, rep.TierRates[1], 1e-9)
	assert.InDelta(t, 0.3, rep.TierRates[2], 1e-9)
	assert.InDelta(t, 0.1, rep.TierRates[3], 1e-9)
	assert.Equal(t, int64(6), rep.CacheHits)
	assert.InDelta(t, 0.6, rep.CacheHitRate, 1e-9)
	assert.Equal(t, map[string]int64{
		metering.OpNormalization:    6,
		metering.OpCategorizationGL: 4,
	}, rep.ByOperation)
	// 3 tier-2 calls at 0.00002 plus 1 tier-3 call at 0.0004.
	assert.InDelta(t, 0.00046, rep.EstimatedUSD, 1e-12)
}

func TestUsageReportOperationFilter(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	require.NoError(t, svc.Log(ctx, metering.Record{
		UserID: "u1", Operation: metering.OpNormalization, Tier: 1, CacheHit: true, CreatedAt: inMay(3),
	}))
	require.NoError(t, svc.Log(ctx, metering.Record{
		UserID: "u1", Operation: metering.OpCategorizationGL, Tier: 3, CreatedAt: inMay(4),
	}))

	rep, err := svc.Usage(ctx, "u1", may, metering.OpCategorizationGL)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.Total)
	assert.Equal(t, map[int]int64{3: 1}, rep.TierCounts)
	assert.Equal(t, map[string]int64{metering.OpCategorizationGL: 1}, rep.ByOperation)
	assert.InDelta(t, 0.0004, rep.EstimatedUSD, 1e-12)
}

func TestUsageReportEmptyPeriod(t *testing.T) {
	svc, _ := newService()

	rep, err := svc.Usage(context.Background(), "u1", may, "")
	require.NoError(t, err)
	assert.Zero(t, rep.Total)
	assert.Empty(t, rep.TierCounts)
	assert.Zero(t, rep.CacheHitRate)
	assert.Zero(t, rep.EstimatedUSD)
}

func TestPromotionCandidates(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	seed := func(hash string, n int) {
		for i := 0; i < n; i++ {
			require.NoError(t, svc.Log(ctx, metering.Record{
				UserID: "u1", Operation: metering.OpCategorizationGL, Tier: 3,
				InputHash: hash, CreatedAt: inMay(2 + i%20),
			}))
		}
	}
	seed("h-acme", 12)
	seed("h-blue", 6)
	seed("h-cafe", 3)
	seed("h-rare", 2)
	store.PutRawText("h-acme", "ACME INDUSTRIAL SUPPLY 4417")

	got, err := svc.PromotionCandidates(ctx, "u1", may, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "h-acme", got[0].InputHash)
	assert.Equal(t, "ACME INDUSTRIAL SUPPLY 4417", got[0].Description)
	assert.Equal(t, int64(12), got[0].TierThreeCount)
	assert.Equal(t, metering.PriorityHigh, got[0].Priority)

	assert.Equal(t, "h-blue", got[1].InputHash)
	assert.Empty(t, got[1].Description)
	assert.Equal(t, metering.PriorityMedium, got[1].Priority)

	assert.Equal(t, "h-cafe", got[2].InputHash)
	assert.Equal(t, metering.PriorityLow, got[2].Priority)
}

func TestPriorityFor(t *testing.T) {
	cases := []struct {
		count int64
		want  metering.Priority
	}{
		{25, metering.PriorityHigh},
		{10, metering.PriorityHigh},
		{9, metering.PriorityMedium},
		{5, metering.PriorityMedium},
		{4, metering.PriorityLow},
		{1, metering.PriorityLow},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, metering.PriorityFor(tc.count), "count %d", tc.count)
	}
}

func TestPeriods(t *testing.T) {
	daily := metering.DailyPeriod()
	assert.Equal(t, 24*time.Hour, daily.End.Sub(daily.Start))

	monthly := metering.MonthlyPeriod()
	assert.Equal(t, 1, monthly.Start.Day())
	assert.True(t, monthly.End.After(monthly.Start))

	window := metering.LastDays(30)
	assert.Equal(t, 30, int(window.End.Sub(window.Start).Hours()/24))
}
