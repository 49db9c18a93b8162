package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrowatch/flood-telemetry-service/internal/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "flood.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(db))
	return NewRepository(db)
}

func record(nodeID, ts string, h, q float64) domain.DerivedRecord {
	return domain.DerivedRecord{
		NodeID:      nodeID,
		TS:          ts,
		DistM:       domain.Float(0.6),
		HM:          domain.Float(h),
		HEff:        domain.Float(h),
		QM3s:        domain.Float(q),
		ProcessedAt: time.Date(2025, 11, 3, 9, 20, 0, 0, time.UTC),
	}
}

func TestGetHQProfile_DefaultsForUnknownNode(t *testing.T) {
	repo := newTestRepo(t)

	p, err := repo.GetHQProfile(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultHQProfile(), p)
}

func TestUpsertHQProfile_RoundTripAndOverwrite(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := domain.HQProfile{A: 2.4, B: 1.62, H0M: 0.015, SensorHeightAboveCrestM: 1.2}
	require.NoError(t, repo.UpsertHQProfile(ctx, "CM-01", first))

	got, err := repo.GetHQProfile(ctx, "CM-01")
	require.NoError(t, err)
	assert.Equal(t, first, got)

	second := domain.HQProfile{A: 2.9, B: 1.55, H0M: 0.02, SensorHeightAboveCrestM: 1.2}
	require.NoError(t, repo.UpsertHQProfile(ctx, "CM-01", second))

	got, err = repo.GetHQProfile(ctx, "CM-01")
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestUpsertDerived_RepeatTimestampOverwrites(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertDerived(ctx, record("CM-01", "2025-11-03T09:15:00Z", 0.40, 0.25)))
	require.NoError(t, repo.UpsertDerived(ctx, record("CM-01", "2025-11-03T09:15:00Z", 0.45, 0.31)))

	recs, err := repo.LatestTelemetry(ctx, "CM-01", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.InDelta(t, 0.45, *recs[0].HM, 1e-9)
	assert.InDelta(t, 0.31, *recs[0].QM3s, 1e-9)
}

func TestUpsertDerived_RegistersDevice(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertDerived(ctx, record("CM-02", "2025-11-03T09:15:00Z", 0.1, 0.05)))
	require.NoError(t, repo.UpsertDerived(ctx, record("CM-01", "2025-11-03T09:16:00Z", 0.2, 0.09)))

	nodes, err := repo.ListNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"CM-01", "CM-02"}, nodes)
}

func TestValueAtOrBefore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertDerived(ctx, record("CM-01", "2025-11-03T09:00:00Z", 0.30, 0.16)))
	require.NoError(t, repo.UpsertDerived(ctx, record("CM-01", "2025-11-03T09:05:00Z", 0.35, 0.20)))
	require.NoError(t, repo.UpsertDerived(ctx, record("CM-01", "2025-11-03T09:15:00Z", 0.50, 0.40)))

	t.Run("exact match wins", func(t *testing.T) {
		v, err := repo.ValueAtOrBefore(ctx, "CM-01", "2025-11-03T09:05:00Z")
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.InDelta(t, 0.35, *v.HM, 1e-9)
	})

	t.Run("falls back to older record", func(t *testing.T) {
		v, err := repo.ValueAtOrBefore(ctx, "CM-01", "2025-11-03T09:10:00Z")
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.InDelta(t, 0.35, *v.HM, 1e-9)
	})

	t.Run("nothing before cutoff", func(t *testing.T) {
		v, err := repo.ValueAtOrBefore(ctx, "CM-01", "2025-11-03T08:00:00Z")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("other node invisible", func(t *testing.T) {
		v, err := repo.ValueAtOrBefore(ctx, "CM-02", "2025-11-03T09:15:00Z")
		require.NoError(t, err)
		assert.Nil(t, v)
	})
}

func TestLatestTelemetry_AscendingWindow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, ts := range []string{
		"2025-11-03T09:00:00Z",
		"2025-11-03T09:05:00Z",
		"2025-11-03T09:10:00Z",
		"2025-11-03T09:15:00Z",
	} {
		require.NoError(t, repo.UpsertDerived(ctx, record("CM-01", ts, 0.1, 0.05)))
	}

	recs, err := repo.LatestTelemetry(ctx, "CM-01", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "2025-11-03T09:10:00Z", recs[0].TS)
	assert.Equal(t, "2025-11-03T09:15:00Z", recs[1].TS)
}

func TestLatestTelemetry_PreservesAbsentFields(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := domain.DerivedRecord{
		NodeID:      "CM-03",
		TS:          "2025-11-03T09:15:00Z",
		RainBin:     domain.Int(1),
		Flags:       []string{"OUT_OF_RANGE_DIST", "NEG_H"},
		ProcessedAt: time.Date(2025, 11, 3, 9, 20, 0, 0, time.UTC),
	}
	require.NoError(t, repo.UpsertDerived(ctx, rec))

	recs, err := repo.LatestTelemetry(ctx, "CM-03", 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	got := recs[0]
	assert.Nil(t, got.DistM)
	assert.Nil(t, got.HM)
	assert.Nil(t, got.QM3s)
	assert.Nil(t, got.DH10m)
	require.NotNil(t, got.RainBin)
	assert.Equal(t, 1, *got.RainBin)
	assert.Equal(t, []string{"OUT_OF_RANGE_DIST", "NEG_H"}, got.Flags)
	assert.Equal(t, rec.ProcessedAt, got.ProcessedAt)
}

func TestForecastUpsertAndRead(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	f := domain.Forecast{ProbFlood: 0.72, WlPeakCm: 55, CiLowCm: 50, CiHighCm: 60}
	require.NoError(t, repo.UpsertForecast(ctx, "2025-11-03T09:20:00Z", "CM-01", 6, f))
	require.NoError(t, repo.UpsertForecast(ctx, "2025-11-03T09:20:00Z", "CM-01", 12, f))

	// Re-running the same cycle replaces, not duplicates.
	f.ProbFlood = 0.80
	require.NoError(t, repo.UpsertForecast(ctx, "2025-11-03T09:20:00Z", "CM-01", 6, f))

	rows, err := repo.ForecastsForNode(ctx, "CM-01")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 6, rows[0].HorizonH)
	assert.InDelta(t, 0.80, rows[0].ProbFlood, 1e-9)
	assert.Equal(t, 12, rows[1].HorizonH)
}

func TestInsertAlertIfAbsent_Idempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := domain.Alert{
		ID:       "CM-01:2025-11-03T09:15:00Z:high:12",
		TS:       "2025-11-03T09:15:00Z",
		NodeID:   "CM-01",
		Level:    "HIGH",
		HorizonH: 12,
		Reason:   "prob 0.72 >= 0.70 at 12h",
	}

	inserted, err := repo.InsertAlertIfAbsent(ctx, a)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertAlertIfAbsent(ctx, a)
	require.NoError(t, err)
	assert.False(t, inserted)

	alerts, err := repo.LatestAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, a, alerts[0])
}

func TestLatestAlerts_NewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, ts := range []string{"2025-11-03T09:00:00Z", "2025-11-03T09:30:00Z", "2025-11-03T09:15:00Z"} {
		_, err := repo.InsertAlertIfAbsent(ctx, domain.Alert{
			ID: "CM-01:" + ts + ":high:12", TS: ts, NodeID: "CM-01", Level: "HIGH", HorizonH: 12,
		})
		require.NoError(t, err)
	}

	alerts, err := repo.LatestAlerts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "2025-11-03T09:30:00Z", alerts[0].TS)
	assert.Equal(t, "2025-11-03T09:15:00Z", alerts[1].TS)
}
