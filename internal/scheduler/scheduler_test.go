package scheduler_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrowatch/flood-telemetry-service/internal/alert"
	"github.com/hydrowatch/flood-telemetry-service/internal/domain"
	"github.com/hydrowatch/flood-telemetry-service/internal/forecast"
	"github.com/hydrowatch/flood-telemetry-service/internal/observability"
	"github.com/hydrowatch/flood-telemetry-service/internal/scheduler"
)

type storedForecast struct {
	TsRun   string
	NodeID  string
	Horizon int
	F       domain.Forecast
}

type mockStore struct {
	mu        sync.Mutex
	nodes     []string
	records   map[string]*domain.DerivedRecord
	forecasts []storedForecast
	listErr   error
	upsertErr error
}

func (m *mockStore) ListNodes(context.Context) ([]string, error) {
	return m.nodes, m.listErr
}

func (m *mockStore) LatestRecord(_ context.Context, nodeID string) (*domain.DerivedRecord, error) {
	return m.records[nodeID], nil
}

func (m *mockStore) UpsertForecast(_ context.Context, tsRun, nodeID string, horizonH int, f domain.Forecast) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forecasts = append(m.forecasts, storedForecast{tsRun, nodeID, horizonH, f})
	return nil
}

func (m *mockStore) stored() []storedForecast {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storedForecast(nil), m.forecasts...)
}

type fixedRain struct {
	mmph  float64
	calls int
}

func (f *fixedRain) RainNextHourMmph(context.Context, float64, float64) float64 {
	f.calls++
	return f.mmph
}

type evalCall struct {
	NodeID    string
	TS        string
	Forecasts map[int]domain.Forecast
	Rain      *float64
}

type mockEvaluator struct {
	mu     sync.Mutex
	calls  []evalCall
	alerts []domain.Alert
}

func (m *mockEvaluator) Evaluate(_ context.Context, nodeID, ts string, forecasts map[int]domain.Forecast, _, rain *float64, _ *alert.State) []domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, evalCall{nodeID, ts, forecasts, rain})
	return m.alerts
}

func (m *mockEvaluator) all() []evalCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]evalCall(nil), m.calls...)
}

func latestRecord(nodeID string, h float64) *domain.DerivedRecord {
	return &domain.DerivedRecord{
		NodeID: nodeID,
		TS:     "2025-11-03T09:15:00Z",
		HM:     domain.Float(h),
		DH10m:  domain.Float(0.05),
	}
}

func newScheduler(store *mockStore, rain *fixedRain, eval *mockEvaluator, clock clockwork.Clock) *scheduler.Scheduler {
	return scheduler.New(store, rain, &forecast.Predictor{}, eval,
		clock, slog.Default(), observability.NewMetricsForTesting(),
		10*time.Minute, []int{6, 12}, 18.7877, 98.9931)
}

func TestRunCycle_ForecastsEveryNode(t *testing.T) {
	store := &mockStore{
		nodes: []string{"CM-01", "CM-02"},
		records: map[string]*domain.DerivedRecord{
			"CM-01": latestRecord("CM-01", 0.40),
			"CM-02": latestRecord("CM-02", 0.10),
		},
	}
	rain := &fixedRain{mmph: 4.0}
	eval := &mockEvaluator{}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 11, 3, 9, 20, 0, 0, time.UTC))

	newScheduler(store, rain, eval, clock).RunCycle(context.Background())

	stored := store.stored()
	require.Len(t, stored, 4, "two horizons for each of two nodes")
	assert.Equal(t, "2025-11-03T09:20:00Z", stored[0].TsRun)
	assert.Equal(t, 1, rain.calls, "one rain lookup shared by all nodes in a cycle")

	calls := eval.all()
	require.Len(t, calls, 2)
	assert.Equal(t, "CM-01", calls[0].NodeID)
	assert.Equal(t, "2025-11-03T09:15:00Z", calls[0].TS)
	require.Contains(t, calls[0].Forecasts, 6)
	require.Contains(t, calls[0].Forecasts, 12)
	require.NotNil(t, calls[0].Rain)
	assert.InDelta(t, 4.0, *calls[0].Rain, 1e-9)
}

func TestRunCycle_SkipsNodesWithoutDerivableLevel(t *testing.T) {
	store := &mockStore{
		nodes: []string{"CM-01", "CM-02", "CM-03"},
		records: map[string]*domain.DerivedRecord{
			"CM-01": latestRecord("CM-01", 0.40),
			// CM-02 has no record at all.
			"CM-03": {NodeID: "CM-03", TS: "2025-11-03T09:15:00Z"}, // no water level
		},
	}
	eval := &mockEvaluator{}

	newScheduler(store, &fixedRain{}, eval, clockwork.NewFakeClock()).RunCycle(context.Background())

	require.Len(t, eval.all(), 1)
	assert.Equal(t, "CM-01", eval.all()[0].NodeID)
}

func TestRunCycle_UpsertFailureDoesNotStopOtherNodes(t *testing.T) {
	store := &mockStore{
		nodes: []string{"CM-01", "CM-02"},
		records: map[string]*domain.DerivedRecord{
			"CM-01": latestRecord("CM-01", 0.40),
			"CM-02": latestRecord("CM-02", 0.50),
		},
		upsertErr: errors.New("db closed"),
	}
	eval := &mockEvaluator{}

	newScheduler(store, &fixedRain{}, eval, clockwork.NewFakeClock()).RunCycle(context.Background())

	// Both nodes were attempted even though both failed at the store.
	assert.Empty(t, eval.all())
	assert.Empty(t, store.stored())
}

func TestRunCycle_ListNodesFailure(t *testing.T) {
	store := &mockStore{listErr: errors.New("db closed")}
	eval := &mockEvaluator{}

	newScheduler(store, &fixedRain{}, eval, clockwork.NewFakeClock()).RunCycle(context.Background())

	assert.Empty(t, eval.all())
}

func TestRun_CyclesOnInterval(t *testing.T) {
	store := &mockStore{
		nodes:   []string{"CM-01"},
		records: map[string]*domain.DerivedRecord{"CM-01": latestRecord("CM-01", 0.40)},
	}
	rain := &fixedRain{}
	eval := &mockEvaluator{}
	clock := clockwork.NewFakeClock()

	s := newScheduler(store, rain, eval, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// First cycle runs immediately, before any tick.
	require.Eventually(t, func() bool { return len(eval.all()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(10 * time.Minute)
	require.Eventually(t, func() bool { return len(eval.all()) == 2 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
